// Package plugin provides an extensible plugin system for the parking engine.
// Plugins hook into space and session lifecycle events; they observe and
// never veto.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Space hooks
// ──────────────────────────────────────────────────

// OnSpaceProvisioned is called after a space is added to a lot.
type OnSpaceProvisioned interface {
	Plugin
	OnSpaceProvisioned(ctx context.Context, sp *space.Space) error
}

// OnSpaceRemoved is called after a space is removed from a lot.
type OnSpaceRemoved interface {
	Plugin
	OnSpaceRemoved(ctx context.Context, spaceID id.SpaceID) error
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionOpened is called after a vehicle has been admitted.
type OnSessionOpened interface {
	Plugin
	OnSessionOpened(ctx context.Context, s *session.Session) error
}

// OnSessionClosed is called after a vehicle has exited and been charged.
type OnSessionClosed interface {
	Plugin
	OnSessionClosed(ctx context.Context, s *session.Session, stayed time.Duration) error
}

// OnEntryRejected is called when an entry request fails.
type OnEntryRejected interface {
	Plugin
	OnEntryRejected(ctx context.Context, vehicleID, lotID string, reason error) error
}

// OnSessionOverstay is called by the overstay sweep for each open session
// older than the configured maximum stay.
type OnSessionOverstay interface {
	Plugin
	OnSessionOverstay(ctx context.Context, s *session.Session, stayed time.Duration) error
}

// ──────────────────────────────────────────────────
// Consistency hooks
// ──────────────────────────────────────────────────

// OnCompensated is called when a claimed space was released again because
// the session could not be opened.
type OnCompensated interface {
	Plugin
	OnCompensated(ctx context.Context, spaceID id.SpaceID, cause error) error
}

// OnReleaseDesync is called when an exit found its space already Available.
type OnReleaseDesync interface {
	Plugin
	OnReleaseDesync(ctx context.Context, s *session.Session, err error) error
}

// ──────────────────────────────────────────────────
// Rate plan hooks
// ──────────────────────────────────────────────────

// OnRatePlanChanged is called after a rate plan is created or replaced.
type OnRatePlanChanged interface {
	Plugin
	OnRatePlanChanged(ctx context.Context, p *rateplan.Plan) error
}
