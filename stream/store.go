package stream

import (
	"context"
	"time"

	"github.com/xraph/paystream/id"
)

// Store persists streams. Implementations hand out copies, so a reader sees
// either the state before a write or after it, never a mix.
type Store interface {
	CreateStream(ctx context.Context, s *Stream) error
	GetStream(ctx context.Context, streamID id.StreamID) (*Stream, error)
	// UpdateStream writes s if the stored version still equals s.Version and
	// bumps s.Version on success.
	UpdateStream(ctx context.Context, s *Stream) error
	ListBySender(ctx context.Context, sender string, opts ListOpts) ([]*Stream, error)
	ListByRecipient(ctx context.Context, recipient string, opts ListOpts) ([]*Stream, error)
	ListStreams(ctx context.Context, opts ListOpts) ([]*Stream, error)
	// ListDueStreams returns pending streams whose start time is not after now.
	ListDueStreams(ctx context.Context, now time.Time, limit int) ([]*Stream, error)
	StreamStats(ctx context.Context) (*Stats, error)
}

// ListOpts filters and pages stream listings. Results are ordered by
// creation time, oldest first.
type ListOpts struct {
	Sender    string
	Recipient string
	State     State
	Limit     int
	Offset    int
}

// Matches reports whether s passes the filters in opts.
func (o ListOpts) Matches(s *Stream) bool {
	if o.Sender != "" && s.Sender != o.Sender {
		return false
	}
	if o.Recipient != "" && s.Recipient != o.Recipient {
		return false
	}
	if o.State != "" && s.State != o.State {
		return false
	}
	return true
}
