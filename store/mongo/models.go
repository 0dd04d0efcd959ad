package mongo

import (
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

	ID                 string             `grove:"id,pk"                  bson:"_id"`
	Sender             string             `grove:"sender"                 bson:"sender"`
	Recipient          string             `grove:"recipient"              bson:"recipient"`
	Currency           string             `grove:"currency"               bson:"currency"`
	TotalAmount        int64              `grove:"total_amount"           bson:"total_amount"`
	ClaimedAmount      int64              `grove:"claimed_amount"         bson:"claimed_amount"`
	RefundedAmount     int64              `grove:"refunded_amount"        bson:"refunded_amount"`
	RatePerSecond      string             `grove:"rate_per_second"        bson:"rate_per_second"`
	DurationNs         int64              `grove:"duration_ns"            bson:"duration_ns"`
	StartTime          time.Time          `grove:"start_time"             bson:"start_time"`
	EndTime            time.Time          `grove:"end_time"               bson:"end_time"`
	State              string             `grove:"state"                  bson:"state"`
	AccumulatedElapsed int64              `grove:"accumulated_elapsed_ns" bson:"accumulated_elapsed_ns"`
	LastResumeAt       time.Time          `grove:"last_resume_at"         bson:"last_resume_at"`
	LastTxRef          string             `grove:"last_tx_ref"            bson:"last_tx_ref"`
	Cancellation       *cancellationModel `grove:"cancellation"           bson:"cancellation"`
	EndedAt            *time.Time         `grove:"ended_at"               bson:"ended_at,omitempty"`
	Version            int64              `grove:"version"                bson:"version"`
	Metadata           map[string]string  `grove:"metadata"               bson:"metadata,omitempty"`
	CreatedAt          time.Time          `grove:"created_at"             bson:"created_at"`
	UpdatedAt          time.Time          `grove:"updated_at"             bson:"updated_at"`
}

type cancellationModel struct {
	RequestedBy      string    `bson:"requested_by"`
	RequestedAt      time.Time `bson:"requested_at"`
	RecipientAmount  int64     `bson:"recipient_amount"`
	RefundAmount     int64     `bson:"refund_amount"`
	RecipientSettled bool      `bson:"recipient_settled"`
	RefundSettled    bool      `bson:"refund_settled"`
	RecipientTxRef   string    `bson:"recipient_tx_ref,omitempty"`
	RefundTxRef      string    `bson:"refund_tx_ref,omitempty"`
}

func toStreamModel(s *stream.Stream) (*streamModel, error) {
	rate, err := s.RatePerSecond.MarshalText()
	if err != nil {
		return nil, err
	}
	var cancellation *cancellationModel
	if c := s.Cancellation; c != nil {
		cancellation = &cancellationModel{
			RequestedBy:      c.RequestedBy,
			RequestedAt:      c.RequestedAt,
			RecipientAmount:  c.RecipientAmount.Amount,
			RefundAmount:     c.RefundAmount.Amount,
			RecipientSettled: c.RecipientSettled,
			RefundSettled:    c.RefundSettled,
			RecipientTxRef:   c.RecipientTxRef,
			RefundTxRef:      c.RefundTxRef,
		}
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
		Metadata:           s.Metadata,
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
	if c := m.Cancellation; c != nil {
		cancellation = &stream.Cancellation{
			RequestedBy:      c.RequestedBy,
			RequestedAt:      c.RequestedAt.UTC(),
			RecipientAmount:  types.New(c.RecipientAmount, m.Currency),
			RefundAmount:     types.New(c.RefundAmount, m.Currency),
			RecipientSettled: c.RecipientSettled,
			RefundSettled:    c.RefundSettled,
			RecipientTxRef:   c.RecipientTxRef,
			RefundTxRef:      c.RefundTxRef,
		}
	}
	var endedAt *time.Time
	if m.EndedAt != nil {
		t := m.EndedAt.UTC()
		endedAt = &t
	}

	return &stream.Stream{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
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
		EndedAt:            endedAt,
		Version:            m.Version,
		Metadata:           m.Metadata,
	}, nil
}

// ==================== Transfer models ====================

type transferModel struct {
	grove.BaseModel `grove:"table:paystream_transfers"`

	ID        string    `grove:"id,pk"        bson:"_id"`
	StreamID  string    `grove:"stream_id"    bson:"stream_id"`
	Kind      string    `grove:"kind"         bson:"kind"`
	FromAcct  string    `grove:"from_account" bson:"from_account"`
	ToAcct    string    `grove:"to_account"   bson:"to_account"`
	Amount    int64     `grove:"amount"       bson:"amount"`
	Currency  string    `grove:"currency"     bson:"currency"`
	Status    string    `grove:"status"       bson:"status"`
	TxRef     string    `grove:"tx_ref"       bson:"tx_ref,omitempty"`
	Error     string    `grove:"error"        bson:"error,omitempty"`
	CreatedAt time.Time `grove:"created_at"   bson:"created_at"`
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
