package sqlite

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

// Instants are kept as Unix nanoseconds so range filters and ordering compare
// numerically instead of lexically.

type streamModel struct {
	grove.BaseModel `grove:"table:paystream_streams"`

	ID                 string  `grove:"id,pk"`
	Sender             string  `grove:"sender"`
	Recipient          string  `grove:"recipient"`
	Currency           string  `grove:"currency"`
	TotalAmount        int64   `grove:"total_amount"`
	ClaimedAmount      int64   `grove:"claimed_amount"`
	RefundedAmount     int64   `grove:"refunded_amount"`
	RatePerSecond      string  `grove:"rate_per_second"`
	DurationNs         int64   `grove:"duration_ns"`
	StartTime          int64   `grove:"start_time"`
	EndTime            int64   `grove:"end_time"`
	State              string  `grove:"state"`
	AccumulatedElapsed int64   `grove:"accumulated_elapsed_ns"`
	LastResumeAt       int64   `grove:"last_resume_at"`
	LastTxRef          string  `grove:"last_tx_ref"`
	Cancellation       *string `grove:"cancellation"`
	EndedAt            *int64  `grove:"ended_at"`
	Version            int64   `grove:"version"`
	Metadata           string  `grove:"metadata"`
	CreatedAt          int64   `grove:"created_at"`
	UpdatedAt          int64   `grove:"updated_at"`
}

func toStreamModel(s *stream.Stream) (*streamModel, error) {
	rate, err := s.RatePerSecond.MarshalText()
	if err != nil {
		return nil, err
	}
	var cancellation *string
	if s.Cancellation != nil {
		data, err := json.Marshal(s.Cancellation)
		if err != nil {
			return nil, fmt.Errorf("encode cancellation: %w", err)
		}
		str := string(data)
		cancellation = &str
	}
	metadata := "{}"
	if len(s.Metadata) > 0 {
		data, err := json.Marshal(s.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(data)
	}
	var endedAt *int64
	if s.EndedAt != nil {
		v := s.EndedAt.UnixNano()
		endedAt = &v
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
		StartTime:          s.StartTime.UnixNano(),
		EndTime:            s.EndTime.UnixNano(),
		State:              string(s.State),
		AccumulatedElapsed: int64(s.AccumulatedElapsed),
		LastResumeAt:       unixNano(s.LastResumeAt),
		LastTxRef:          s.LastTxRef,
		Cancellation:       cancellation,
		EndedAt:            endedAt,
		Version:            s.Version,
		Metadata:           metadata,
		CreatedAt:          s.CreatedAt.UnixNano(),
		UpdatedAt:          s.UpdatedAt.UnixNano(),
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
	if m.Cancellation != nil && *m.Cancellation != "" {
		cancellation = new(stream.Cancellation)
		if err := json.Unmarshal([]byte(*m.Cancellation), cancellation); err != nil {
			return nil, fmt.Errorf("decode cancellation: %w", err)
		}
	}
	var metadata map[string]string
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	var endedAt *time.Time
	if m.EndedAt != nil {
		t := fromUnixNano(*m.EndedAt)
		endedAt = &t
	}

	return &stream.Stream{
		Entity: types.Entity{
			CreatedAt: fromUnixNano(m.CreatedAt),
			UpdatedAt: fromUnixNano(m.UpdatedAt),
		},
		ID:                 streamID,
		Sender:             m.Sender,
		Recipient:          m.Recipient,
		TotalAmount:        types.New(m.TotalAmount, m.Currency),
		ClaimedAmount:      types.New(m.ClaimedAmount, m.Currency),
		RefundedAmount:     types.New(m.RefundedAmount, m.Currency),
		RatePerSecond:      rate,
		Duration:           time.Duration(m.DurationNs),
		StartTime:          fromUnixNano(m.StartTime),
		EndTime:            fromUnixNano(m.EndTime),
		State:              stream.State(m.State),
		AccumulatedElapsed: time.Duration(m.AccumulatedElapsed),
		LastResumeAt:       fromUnixNano(m.LastResumeAt),
		LastTxRef:          m.LastTxRef,
		Cancellation:       cancellation,
		EndedAt:            endedAt,
		Version:            m.Version,
		Metadata:           metadata,
	}, nil
}

// unixNano maps the zero time to 0 so it survives a round trip.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
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

type statsRow struct {
	State    string `grove:"state"`
	Currency string `grove:"currency"`
	Count    int64  `grove:"count"`
	Volume   int64  `grove:"volume"`
	Claimed  int64  `grove:"claimed"`
}

type transferModel struct {
	grove.BaseModel `grove:"table:paystream_transfers"`

	ID        string `grove:"id,pk"`
	StreamID  string `grove:"stream_id"`
	Kind      string `grove:"kind"`
	FromAcct  string `grove:"from_account"`
	ToAcct    string `grove:"to_account"`
	Amount    int64  `grove:"amount"`
	Currency  string `grove:"currency"`
	Status    string `grove:"status"`
	TxRef     string `grove:"tx_ref"`
	Error     string `grove:"error"`
	CreatedAt int64  `grove:"created_at"`
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
		CreatedAt: t.CreatedAt.UnixNano(),
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
		CreatedAt: fromUnixNano(m.CreatedAt),
	}, nil
}
