package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the parking store.
var Migrations = migrate.NewGroup("parking")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_parking_spaces",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS parking_spaces (
    id         TEXT PRIMARY KEY,
    lot_id     TEXT NOT NULL,
    label      TEXT NOT NULL DEFAULT '',
    class      TEXT NOT NULL,
    state      TEXT NOT NULL DEFAULT 'available',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_parking_spaces_lot ON parking_spaces (lot_id, id);
CREATE INDEX IF NOT EXISTS idx_parking_spaces_available ON parking_spaces (lot_id, class, id) WHERE state = 'available';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS parking_spaces`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_parking_sessions",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS parking_sessions (
    id           TEXT PRIMARY KEY,
    vehicle_id   TEXT NOT NULL,
    space_id     TEXT NOT NULL,
    lot_id       TEXT NOT NULL DEFAULT '',
    class        TEXT NOT NULL DEFAULT '',
    entry_time   TIMESTAMPTZ NOT NULL,
    exit_time    TIMESTAMPTZ,
    status       TEXT NOT NULL DEFAULT 'open',
    fee_amount   BIGINT,
    fee_currency TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_parking_sessions_open_vehicle ON parking_sessions (vehicle_id) WHERE status = 'open';
CREATE UNIQUE INDEX IF NOT EXISTS uq_parking_sessions_open_space ON parking_sessions (space_id) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_parking_sessions_vehicle ON parking_sessions (vehicle_id, entry_time DESC);
CREATE INDEX IF NOT EXISTS idx_parking_sessions_lot ON parking_sessions (lot_id, entry_time DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS parking_sessions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_parking_rate_plans",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS parking_rate_plans (
    id            TEXT PRIMARY KEY,
    class         TEXT NOT NULL,
    currency      TEXT NOT NULL DEFAULT '',
    base_amount   BIGINT NOT NULL DEFAULT 0,
    hourly_amount BIGINT NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_parking_rate_plans_class ON parking_rate_plans (class);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS parking_rate_plans`)
				return err
			},
		},
	)
}
