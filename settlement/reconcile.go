package settlement

import (
	"fmt"

	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// Report compares a stream's books with the transfers recorded against it.
type Report struct {
	StreamID        id.StreamID  `json:"stream_id"`
	State           stream.State `json:"state"`
	Total           types.Money  `json:"total"`
	Claimed         types.Money  `json:"claimed"`
	Refunded        types.Money  `json:"refunded"`
	PaidToRecipient types.Money  `json:"paid_to_recipient"`
	PaidToSender    types.Money  `json:"paid_to_sender"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	LastTxRef       string       `json:"last_tx_ref,omitempty"`
	Discrepancies   []string     `json:"discrepancies,omitempty"`
}

// Balanced reports whether no discrepancy was found.
func (r *Report) Balanced() bool { return len(r.Discrepancies) == 0 }

// Reconcile checks that the amounts booked on s match the succeeded transfers
// and that a terminal stream has neither created nor destroyed value.
func Reconcile(s *stream.Stream, transfers []*Transfer) *Report {
	cur := s.TotalAmount.Currency
	r := &Report{
		StreamID:        s.ID,
		State:           s.State,
		Total:           s.TotalAmount,
		Claimed:         s.ClaimedAmount,
		Refunded:        s.RefundedAmount,
		PaidToRecipient: types.Zero(cur),
		PaidToSender:    types.Zero(cur),
		LastTxRef:       s.LastTxRef,
	}

	for _, t := range transfers {
		if !t.Succeeded() {
			r.Failed++
			continue
		}
		r.Succeeded++
		if t.Amount.Currency != cur {
			r.Discrepancies = append(r.Discrepancies,
				fmt.Sprintf("transfer %s in %s, stream in %s", t.ID, t.Amount.Currency, cur))
			continue
		}
		if t.PaysRecipient() {
			r.PaidToRecipient = r.PaidToRecipient.Add(t.Amount)
		} else {
			r.PaidToSender = r.PaidToSender.Add(t.Amount)
		}
	}

	if r.PaidToRecipient.Amount != s.ClaimedAmount.Amount {
		r.Discrepancies = append(r.Discrepancies,
			fmt.Sprintf("claimed %s but %s paid to recipient", s.ClaimedAmount, r.PaidToRecipient))
	}
	if r.PaidToSender.Amount != s.RefundedAmount.Amount {
		r.Discrepancies = append(r.Discrepancies,
			fmt.Sprintf("refunded %s but %s paid to sender", s.RefundedAmount, r.PaidToSender))
	}
	if s.ClaimedAmount.GreaterThan(s.TotalAmount) {
		r.Discrepancies = append(r.Discrepancies,
			fmt.Sprintf("claimed %s exceeds total %s", s.ClaimedAmount, s.TotalAmount))
	}

	switch s.State {
	case stream.StateCompleted:
		if s.ClaimedAmount.Amount != s.TotalAmount.Amount {
			r.Discrepancies = append(r.Discrepancies,
				fmt.Sprintf("completed with %s of %s claimed", s.ClaimedAmount, s.TotalAmount))
		}
	case stream.StateCancelled:
		if !types.Sum(cur, s.ClaimedAmount, s.RefundedAmount).Equal(s.TotalAmount) {
			r.Discrepancies = append(r.Discrepancies,
				fmt.Sprintf("cancelled with claimed %s + refunded %s != total %s",
					s.ClaimedAmount, s.RefundedAmount, s.TotalAmount))
		}
	}

	return r
}
