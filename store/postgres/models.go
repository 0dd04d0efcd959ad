package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// ==================== Stream models ====================

type streamModel struct {
	grove.BaseModel `grove:"table:paystream_streams"`

	ID                 string            `grove:"id,pk"`
	Sender             string            `grove:"sender"`
	Recipient          string            `grove:"recipient"`
	Currency           string            `grove:"currency"`
	TotalAmount        int64             `grove:"total_amount"`
	ClaimedAmount      int64             `grove:"claimed_amount"`
	RefundedAmount     int64             `grove:"refunded_amount"`
	RatePerSecond      string            `grove:"rate_per_second"`
	DurationNs         int64             `grove:"duration_ns"`
	StartTime          time.Time         `grove:"start_time"`
	EndTime            time.Time         `grove:"end_time"`
	State              string            `grove:"state"`
	AccumulatedElapsed int64             `grove:"accumulated_elapsed_ns"`
	LastResumeAt       time.Time         `grove:"last_resume_at"`
	LastTxRef          string            `grove:"last_tx_ref"`
	Cancellation       json.RawMessage   `grove:"cancellation,type:jsonb"`
	EndedAt            *time.Time        `grove:"ended_at"`
	Version            int64             `grove:"version"`
	Metadata           json.RawMessage   `grove:"metadata,type:jsonb"`
	CreatedAt          time.Time         `grove:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at"`
}

func toStreamModel(s *stream.Stream) (*streamModel, error) {
	rate, err := s.RatePerSecond.MarshalText()
	if err != nil {
		return nil, err
	}
	var cancellation json.RawMessage
	if s.Cancellation != nil {
		if cancellation, err = json.Marshal(s.Cancellation); err != nil {
			return nil, fmt.Errorf("encode cancellation: %w", err)
		}
	}
	metadata, err := encodeMetadata(s.Metadata)
	if err != nil {
		return nil, err
	}

	return &streamModel{
		ID:                 s.ID.String(),
		Sender:             s.Sender,
		Recipient:          s.Recipient,
		Currency:           s.TotalAmount.Currency,
		TotalAmount:        s.TotalAmount.Amount,
		ClaimedAmount:      s.ClaimedAmount.Amount,
		RefundedAmount:     s.RefundedAmount.Amount,
		RatePerSecond:      string(rate),
		DurationNs:         int64(s.Duration),
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
		State:              string(s.State),
		AccumulatedElapsed: int64(s.AccumulatedElapsed),
		LastResumeAt:       s.LastResumeAt,
		LastTxRef:          s.LastTxRef,
		Cancellation:       cancellation,
		EndedAt:            s.EndedAt,
		Version:            s.Version,
		Metadata:           metadata,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}, nil
}

func fromStreamModel(m *streamModel) (*stream.Stream, error) {
	streamID, err := id.ParseStreamID(m.ID)
	if err != nil {
		return nil, err
	}
	rate, err := types.ParseRate(m.RatePerSecond)
	if err != nil {
		return nil, err
	}
	var cancellation *stream.Cancellation
	if len(m.Cancellation) > 0 && string(m.Cancellation) != "null" {
		cancellation = new(stream.Cancellation)
		if err := json.Unmarshal(m.Cancellation, cancellation); err != nil {
			return nil, fmt.Errorf("decode cancellation: %w", err)
		}
	}

	metadata, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}

	return &stream.Stream{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 streamID,
		Sender:             m.Sender,
		Recipient:          m.Recipient,
		TotalAmount:        types.New(m.TotalAmount, m.Currency),
		ClaimedAmount:      types.New(m.ClaimedAmount, m.Currency),
		RefundedAmount:     types.New(m.RefundedAmount, m.Currency),
		RatePerSecond:      rate,
		Duration:           time.Duration(m.DurationNs),
		StartTime:          m.StartTime.UTC(),
		EndTime:            m.EndTime.UTC(),
		State:              stream.State(m.State),
		AccumulatedElapsed: time.Duration(m.AccumulatedElapsed),
		LastResumeAt:       m.LastResumeAt.UTC(),
		LastTxRef:          m.LastTxRef,
		Cancellation:       cancellation,
		EndedAt:            m.EndedAt,
		Version:            m.Version,
		Metadata:           metadata,
	}, nil
}

func encodeMetadata(md map[string]string) (json.RawMessage, error) {
	if len(md) == 0 {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data json.RawMessage) (map[string]string, error) {
	if len(data) == 0 || string(data) == "{}" || string(data) == "null" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

// updateColumns lists the mutable columns written by UpdateStream, in order.
func (m *streamModel) updateColumns() []column {
	return []column{
		{"claimed_amount", m.ClaimedAmount},
		{"refunded_amount", m.RefundedAmount},
		{"state", m.State},
		{"accumulated_elapsed_ns", m.AccumulatedElapsed},
		{"last_resume_at", m.LastResumeAt},
		{"last_tx_ref", m.LastTxRef},
		{"cancellation", m.Cancellation},
		{"ended_at", m.EndedAt},
		{"metadata", m.Metadata},
		{"updated_at", m.UpdatedAt},
		{"version", m.Version + 1},
	}
}

type column struct {
	name  string
	value any
}

// statsRow is one (state, currency) group of the stats aggregate.
type statsRow struct {
	State    string `grove:"state"`
	Currency string `grove:"currency"`
	Count    int64  `grove:"count"`
	Volume   int64  `grove:"volume"`
	Claimed  int64  `grove:"claimed"`
}

// ==================== Transfer models ====================

type transferModel struct {
	grove.BaseModel `grove:"table:paystream_transfers"`

	ID        string    `grove:"id,pk"`
	StreamID  string    `grove:"stream_id"`
	Kind      string    `grove:"kind"`
	FromAcct  string    `grove:"from_account"`
	ToAcct    string    `grove:"to_account"`
	Amount    int64     `grove:"amount"`
	Currency  string    `grove:"currency"`
	Status    string    `grove:"status"`
	TxRef     string    `grove:"tx_ref"`
	Error     string    `grove:"error"`
	CreatedAt time.Time `grove:"created_at"`
}

func toTransferModel(t *settlement.Transfer) *transferModel {
	return &transferModel{
		ID:        t.ID.String(),
		StreamID:  t.StreamID.String(),
		Kind:      string(t.Kind),
		FromAcct:  t.From,
		ToAcct:    t.To,
		Amount:    t.Amount.Amount,
		Currency:  t.Amount.Currency,
		Status:    string(t.Status),
		TxRef:     t.TxRef,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
	}
}

func fromTransferModel(m *transferModel) (*settlement.Transfer, error) {
	transferID, err := id.ParseTransferID(m.ID)
	if err != nil {
		return nil, err
	}
	streamID, err := id.ParseStreamID(m.StreamID)
	if err != nil {
		return nil, err
	}
	return &settlement.Transfer{
		ID:        transferID,
		StreamID:  streamID,
		Kind:      settlement.Kind(m.Kind),
		From:      m.FromAcct,
		To:        m.ToAcct,
		Amount:    types.New(m.Amount, m.Currency),
		Status:    settlement.Status(m.Status),
		TxRef:     m.TxRef,
		Error:     m.Error,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}
