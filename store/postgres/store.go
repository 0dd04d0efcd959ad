package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store"
	"github.com/xraph/paystream/stream"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("paystream/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("paystream/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Stream Store ====================

func (s *Store) CreateStream(ctx context.Context, st *stream.Stream) error {
	m, err := toStreamModel(st)
	if err != nil {
		return err
	}
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return paystream.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	m := new(streamModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", streamID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, paystream.ErrStreamNotFound
		}
		return nil, err
	}
	return fromStreamModel(m)
}

// UpdateStream writes every mutable column guarded by the version the caller
// read. Zero affected rows means the stream is gone or was written since.
func (s *Store) UpdateStream(ctx context.Context, st *stream.Stream) error {
	m, err := toStreamModel(st)
	if err != nil {
		return err
	}

	q := s.pg.NewUpdate((*streamModel)(nil))
	argIdx := 0
	for _, c := range m.updateColumns() {
		argIdx++
		q = q.Set(fmt.Sprintf("%s = $%d", c.name, argIdx), c.value)
	}
	q = q.Where(fmt.Sprintf("id = $%d", argIdx+1), m.ID).
		Where(fmt.Sprintf("version = $%d", argIdx+2), m.Version)

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missingOrStale(ctx, m.ID)
	}
	st.Version++
	return nil
}

func (s *Store) missingOrStale(ctx context.Context, streamID string) error {
	var n int64
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM paystream_streams WHERE id = $1`, streamID).Scan(ctx, &n)
	if err != nil {
		return err
	}
	if n == 0 {
		return paystream.ErrStreamNotFound
	}
	return paystream.ErrVersionConflict
}

func (s *Store) ListBySender(ctx context.Context, sender string, opts stream.ListOpts) ([]*stream.Stream, error) {
	opts.Sender = sender
	return s.ListStreams(ctx, opts)
}

func (s *Store) ListByRecipient(ctx context.Context, recipient string, opts stream.ListOpts) ([]*stream.Stream, error) {
	opts.Recipient = recipient
	return s.ListStreams(ctx, opts)
}

func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	var models []streamModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Sender != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("sender = $%d", argIdx), opts.Sender)
	}
	if opts.Recipient != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("recipient = $%d", argIdx), opts.Recipient)
	}
	if opts.State != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("state = $%d", argIdx), string(opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromStreamModels(models)
}

func (s *Store) ListDueStreams(ctx context.Context, now time.Time, limit int) ([]*stream.Stream, error) {
	var models []streamModel
	q := s.pg.NewSelect(&models).
		Where("state = $1", string(stream.StatePending)).
		Where("(cancellation IS NULL OR cancellation = 'null'::jsonb)").
		Where("start_time <= $2", now).
		OrderExpr("start_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromStreamModels(models)
}

func (s *Store) StreamStats(ctx context.Context) (*stream.Stats, error) {
	var rows []statsRow
	err := s.pg.NewRaw(`
		SELECT state, currency, COUNT(*) AS count,
		       COALESCE(SUM(total_amount), 0) AS volume,
		       COALESCE(SUM(claimed_amount), 0) AS claimed
		FROM paystream_streams
		GROUP BY state, currency
	`).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	stats := stream.NewStats()
	for _, r := range rows {
		stats.AddGroup(stream.State(r.State), r.Currency, r.Count, r.Volume, r.Claimed)
	}
	return stats, nil
}

func fromStreamModels(models []streamModel) ([]*stream.Stream, error) {
	result := make([]*stream.Stream, len(models))
	for i := range models {
		st, err := fromStreamModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = st
	}
	return result, nil
}

// ==================== Settlement Store ====================

func (s *Store) RecordTransfer(ctx context.Context, t *settlement.Transfer) error {
	if _, err := s.pg.NewInsert(toTransferModel(t)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return paystream.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, streamID id.StreamID) ([]*settlement.Transfer, error) {
	var models []transferModel
	err := s.pg.NewSelect(&models).
		Where("stream_id = $1", streamID.String()).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*settlement.Transfer, len(models))
	for i := range models {
		t, err := fromTransferModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches SQLSTATE 23505 without binding to a driver type.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
