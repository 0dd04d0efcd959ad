// Package paystream provides a continuous-payment streaming ledger for Go
// applications.
//
// A sender commits a fixed amount to a recipient, released linearly over a
// duration. The recipient claims whatever has accrued at any time, the
// sender may pause and resume accrual, and either party may cancel early
// with a pro-rata split. Paystream is a library: it owns the accounting and
// delegates persistence to a store and fund movement to a settlement
// dispatcher.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/paystream"
//	    "github.com/xraph/paystream/store/memory"
//	)
//
//	l := paystream.New(memory.New(),
//	    paystream.WithDispatcher(dispatcher),
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	s, err := l.CreateStream(ctx, paystream.CreateParams{
//	    Sender:    "alice",
//	    Recipient: "bob",
//	    Amount:    paystream.USD(100000), // $1000.00
//	    Duration:  100 * time.Second,
//	})
//
//	res, err := l.Claim(ctx, s.ID, "bob")
//
// # Accrual
//
// The per-second rate is fixed at creation as a fixed-point value with 18
// digits below the currency's minimum unit, floored. Claimable funds are
// floor(rate * active time) minus what has been claimed; once the full
// duration has elapsed the whole total is claimable, so any rounding residue
// goes to the recipient on the final claim.
//
// Paused time does not accrue. Pausing banks the active time so far and
// resuming starts a new active interval.
//
// # Settlement
//
// Claim persists the increment before calling the dispatcher and rolls it
// back if the dispatcher fails. Cancel freezes the split on the first call
// and dispatches each leg; a leg that fails leaves the stream cancel-pending
// and is retried by cancelling again. Every dispatcher attempt is recorded
// and can be checked with Reconcile.
//
// # Concurrency
//
// Mutating operations on one stream are serialised, including the
// dispatcher call. Different streams proceed in parallel and reads never
// block on writers.
//
// # TypeID
//
// Entities use TypeID for globally unique, K-sortable identifiers:
//
//	strm_01h2xcejqtf2nbrexx3vqjhp41  // Stream ID
//	xfer_01h455vb4pex5vsknk084sn02q  // Transfer ID
package paystream
