package settlement

import (
	"time"

	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/types"
)

// Kind identifies which payout a transfer belongs to.
type Kind string

const (
	KindClaim           Kind = "claim"
	KindCancelRecipient Kind = "cancel_recipient"
	KindCancelRefund    Kind = "cancel_refund"
)

// Status is the outcome of a dispatcher call.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Transfer records one dispatcher attempt.
type Transfer struct {
	ID        id.TransferID `json:"id"`
	StreamID  id.StreamID   `json:"stream_id"`
	Kind      Kind          `json:"kind"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Amount    types.Money   `json:"amount"`
	Status    Status        `json:"status"`
	TxRef     string        `json:"tx_ref,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Succeeded reports whether the dispatcher accepted the transfer.
func (t *Transfer) Succeeded() bool { return t.Status == StatusSucceeded }

// PaysRecipient reports whether the transfer moves funds to the recipient.
func (t *Transfer) PaysRecipient() bool {
	return t.Kind == KindClaim || t.Kind == KindCancelRecipient
}
