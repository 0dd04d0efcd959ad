// Package memory is an in-process store.Store for tests and single-node use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store"
	"github.com/xraph/paystream/stream"
)

var _ store.Store = (*Store)(nil)

// Store keeps streams and transfers in maps guarded by one RWMutex. Every
// read and write copies, so callers never alias stored records.
type Store struct {
	mu     sync.RWMutex
	closed bool

	// Stream storage, with append-only indexes in creation order
	streams     map[string]*stream.Stream
	order       []string
	bySender    map[string][]string
	byRecipient map[string][]string

	// Transfer storage, per stream in attempt order
	transfers map[string][]*settlement.Transfer
}

func New() *Store {
	return &Store{
		streams:     make(map[string]*stream.Stream),
		bySender:    make(map[string][]string),
		byRecipient: make(map[string][]string),
		transfers:   make(map[string][]*settlement.Transfer),
	}
}

// Stream Store implementation
func (s *Store) CreateStream(_ context.Context, st *stream.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return paystream.ErrStoreClosed
	}
	key := st.ID.String()
	if _, exists := s.streams[key]; exists {
		return paystream.ErrAlreadyExists
	}
	s.streams[key] = st.Clone()
	s.order = append(s.order, key)
	s.bySender[st.Sender] = append(s.bySender[st.Sender], key)
	s.byRecipient[st.Recipient] = append(s.byRecipient[st.Recipient], key)
	return nil
}

func (s *Store) GetStream(_ context.Context, streamID id.StreamID) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, paystream.ErrStoreClosed
	}
	if st, ok := s.streams[streamID.String()]; ok {
		return st.Clone(), nil
	}
	return nil, paystream.ErrStreamNotFound
}

func (s *Store) UpdateStream(_ context.Context, st *stream.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return paystream.ErrStoreClosed
	}
	existing, ok := s.streams[st.ID.String()]
	if !ok {
		return paystream.ErrStreamNotFound
	}
	if existing.Version != st.Version {
		return paystream.ErrVersionConflict
	}
	st.Version++
	s.streams[st.ID.String()] = st.Clone()
	return nil
}

func (s *Store) ListBySender(_ context.Context, sender string, opts stream.ListOpts) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts.Sender = sender
	return s.collect(s.bySender[sender], opts)
}

func (s *Store) ListByRecipient(_ context.Context, recipient string, opts stream.ListOpts) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts.Recipient = recipient
	return s.collect(s.byRecipient[recipient], opts)
}

func (s *Store) ListStreams(_ context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.order
	switch {
	case opts.Sender != "":
		keys = s.bySender[opts.Sender]
	case opts.Recipient != "":
		keys = s.byRecipient[opts.Recipient]
	}
	return s.collect(keys, opts)
}

func (s *Store) ListDueStreams(_ context.Context, now time.Time, limit int) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, paystream.ErrStoreClosed
	}
	result := make([]*stream.Stream, 0)
	for _, key := range s.order {
		st := s.streams[key]
		if !st.Due(now) {
			continue
		}
		result = append(result, st.Clone())
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) StreamStats(_ context.Context) (*stream.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, paystream.ErrStoreClosed
	}
	stats := stream.NewStats()
	for _, st := range s.streams {
		stats.AddGroup(st.State, st.TotalAmount.Currency, 1, st.TotalAmount.Amount, st.ClaimedAmount.Amount)
	}
	return stats, nil
}

// collect filters keys by opts and applies limit/offset. Callers hold mu.
func (s *Store) collect(keys []string, opts stream.ListOpts) ([]*stream.Stream, error) {
	if s.closed {
		return nil, paystream.ErrStoreClosed
	}

	result := make([]*stream.Stream, 0)
	skipped := 0
	for _, key := range keys {
		st := s.streams[key]
		if !opts.Matches(st) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		result = append(result, st.Clone())
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

// Settlement Store implementation
func (s *Store) RecordTransfer(_ context.Context, t *settlement.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return paystream.ErrStoreClosed
	}
	key := t.StreamID.String()
	for _, existing := range s.transfers[key] {
		if existing.ID == t.ID {
			return paystream.ErrAlreadyExists
		}
	}
	cp := *t
	s.transfers[key] = append(s.transfers[key], &cp)
	return nil
}

func (s *Store) ListTransfers(_ context.Context, streamID id.StreamID) ([]*settlement.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, paystream.ErrStoreClosed
	}
	list := s.transfers[streamID.String()]
	result := make([]*settlement.Transfer, 0, len(list))
	for _, t := range list {
		cp := *t
		result = append(result, &cp)
	}
	return result, nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return paystream.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
