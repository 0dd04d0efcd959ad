package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store"
	"github.com/xraph/paystream/stream"
)

// Collection name constants.
const (
	colStreams   = "paystream_streams"
	colTransfers = "paystream_transfers"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all paystream collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("paystream/mongo: migrate %s indexes: %w", col, err)
		}
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return paystream.ErrAlreadyExists
		}
		return fmt.Errorf("paystream/mongo: create stream: %w", err)
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	var m streamModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": streamID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, paystream.ErrStreamNotFound
		}
		return nil, fmt.Errorf("paystream/mongo: get stream: %w", err)
	}
	return fromStreamModel(&m)
}

// UpdateStream replaces the document only while its version still matches
// the one the caller read.
func (s *Store) UpdateStream(ctx context.Context, st *stream.Stream) error {
	m, err := toStreamModel(st)
	if err != nil {
		return err
	}
	expected := m.Version
	m.Version++

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expected}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("paystream/mongo: update stream: %w", err)
	}
	if res.MatchedCount() == 0 {
		n, err := s.mdb.Collection(colStreams).CountDocuments(ctx, bson.M{"_id": m.ID})
		if err != nil {
			return fmt.Errorf("paystream/mongo: update stream: %w", err)
		}
		if n == 0 {
			return paystream.ErrStreamNotFound
		}
		return paystream.ErrVersionConflict
	}
	st.Version++
	return nil
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

	filter := bson.M{}
	if opts.Sender != "" {
		filter["sender"] = opts.Sender
	}
	if opts.Recipient != "" {
		filter["recipient"] = opts.Recipient
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paystream/mongo: list streams: %w", err)
	}
	return fromStreamModels(models)
}

func (s *Store) ListDueStreams(ctx context.Context, now time.Time, limit int) ([]*stream.Stream, error) {
	var models []streamModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"state":        string(stream.StatePending),
			"cancellation": nil,
			"start_time":   bson.M{"$lte": now},
		}).
		Sort(bson.D{{Key: "start_time", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paystream/mongo: list due streams: %w", err)
	}
	return fromStreamModels(models)
}

func (s *Store) StreamStats(ctx context.Context) (*stream.Stats, error) {
	pipeline := bson.A{
		bson.M{
			"$group": bson.M{
				"_id":     bson.M{"state": "$state", "currency": "$currency"},
				"count":   bson.M{"$sum": 1},
				"volume":  bson.M{"$sum": "$total_amount"},
				"claimed": bson.M{"$sum": "$claimed_amount"},
			},
		},
	}

	cursor, err := s.mdb.Collection(colStreams).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("paystream/mongo: stream stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Key struct {
			State    string `bson:"state"`
			Currency string `bson:"currency"`
		} `bson:"_id"`
		Count   int64 `bson:"count"`
		Volume  int64 `bson:"volume"`
		Claimed int64 `bson:"claimed"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("paystream/mongo: stream stats decode: %w", err)
	}

	stats := stream.NewStats()
	for _, r := range results {
		stats.AddGroup(stream.State(r.Key.State), r.Key.Currency, r.Count, r.Volume, r.Claimed)
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
	if _, err := s.mdb.NewInsert(toTransferModel(t)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return paystream.ErrAlreadyExists
		}
		return fmt.Errorf("paystream/mongo: record transfer: %w", err)
	}
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, streamID id.StreamID) ([]*settlement.Transfer, error) {
	var models []transferModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"stream_id": streamID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("paystream/mongo: list transfers: %w", err)
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all paystream collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colStreams: {
			{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "start_time", Value: 1}}},
		},
		colTransfers: {
			{Keys: bson.D{{Key: "stream_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{
				Keys:    bson.D{{Key: "tx_ref", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
		},
	}
}
