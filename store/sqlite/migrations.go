package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the paystream store (SQLite).
var Migrations = migrate.NewGroup("paystream")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_paystream_streams",
			Version: "20260501000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS paystream_streams (
    id                     TEXT PRIMARY KEY,
    sender                 TEXT NOT NULL,
    recipient              TEXT NOT NULL,
    currency               TEXT NOT NULL,
    total_amount           INTEGER NOT NULL,
    claimed_amount         INTEGER NOT NULL DEFAULT 0,
    refunded_amount        INTEGER NOT NULL DEFAULT 0,
    rate_per_second        TEXT NOT NULL,
    duration_ns            INTEGER NOT NULL,
    start_time             INTEGER NOT NULL,
    end_time               INTEGER NOT NULL,
    state                  TEXT NOT NULL,
    accumulated_elapsed_ns INTEGER NOT NULL DEFAULT 0,
    last_resume_at         INTEGER NOT NULL DEFAULT 0,
    last_tx_ref            TEXT NOT NULL DEFAULT '',
    cancellation           TEXT,
    ended_at               INTEGER,
    version                INTEGER NOT NULL DEFAULT 0,
    metadata               TEXT NOT NULL DEFAULT '{}',
    created_at             INTEGER NOT NULL,
    updated_at             INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_paystream_streams_sender ON paystream_streams (sender, created_at);
CREATE INDEX IF NOT EXISTS idx_paystream_streams_recipient ON paystream_streams (recipient, created_at);
CREATE INDEX IF NOT EXISTS idx_paystream_streams_state ON paystream_streams (state, start_time);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS paystream_streams`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_paystream_transfers",
			Version: "20260501000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS paystream_transfers (
    id           TEXT PRIMARY KEY,
    stream_id    TEXT NOT NULL,
    kind         TEXT NOT NULL,
    from_account TEXT NOT NULL,
    to_account   TEXT NOT NULL,
    amount       INTEGER NOT NULL,
    currency     TEXT NOT NULL,
    status       TEXT NOT NULL,
    tx_ref       TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_paystream_transfers_stream ON paystream_transfers (stream_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS paystream_transfers`)
				return err
			},
		},
	)
}
