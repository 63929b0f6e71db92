// Package audithook bridges parking lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/plugin"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnSpaceProvisioned = (*Extension)(nil)
	_ plugin.OnSpaceRemoved     = (*Extension)(nil)
	_ plugin.OnSessionOpened    = (*Extension)(nil)
	_ plugin.OnSessionClosed    = (*Extension)(nil)
	_ plugin.OnSessionOverstay  = (*Extension)(nil)
	_ plugin.OnEntryRejected    = (*Extension)(nil)
	_ plugin.OnCompensated      = (*Extension)(nil)
	_ plugin.OnReleaseDesync    = (*Extension)(nil)
	_ plugin.OnRatePlanChanged  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges parking lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Space hooks
// ──────────────────────────────────────────────────

// OnSpaceProvisioned implements plugin.OnSpaceProvisioned.
func (e *Extension) OnSpaceProvisioned(ctx context.Context, sp *space.Space) error {
	return e.record(ctx, ActionSpaceProvisioned, SeverityInfo, OutcomeSuccess,
		ResourceSpace, sp.ID.String(), CategoryInventory, nil,
		"lot_id", sp.LotID,
		"class", sp.Class,
		"label", sp.Label,
	)
}

// OnSpaceRemoved implements plugin.OnSpaceRemoved.
func (e *Extension) OnSpaceRemoved(ctx context.Context, spaceID id.SpaceID) error {
	return e.record(ctx, ActionSpaceRemoved, SeverityInfo, OutcomeSuccess,
		ResourceSpace, spaceID.String(), CategoryInventory, nil,
	)
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionOpened implements plugin.OnSessionOpened.
func (e *Extension) OnSessionOpened(ctx context.Context, s *session.Session) error {
	return e.record(ctx, ActionSessionOpened, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryAccess, nil,
		"vehicle_id", s.VehicleID,
		"space_id", s.SpaceID.String(),
		"lot_id", s.LotID,
		"entry_time", s.EntryTime.Format(time.RFC3339),
	)
}

// OnSessionClosed implements plugin.OnSessionClosed.
func (e *Extension) OnSessionClosed(ctx context.Context, s *session.Session, stayed time.Duration) error {
	kv := []any{
		"vehicle_id", s.VehicleID,
		"space_id", s.SpaceID.String(),
		"stayed", stayed.String(),
	}
	if s.Fee != nil {
		kv = append(kv, "fee", s.Fee.String())
	}
	return e.record(ctx, ActionSessionClosed, SeverityInfo, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryBilling, nil,
		kv...,
	)
}

// OnSessionOverstay implements plugin.OnSessionOverstay.
func (e *Extension) OnSessionOverstay(ctx context.Context, s *session.Session, stayed time.Duration) error {
	return e.record(ctx, ActionSessionOverstay, SeverityWarning, OutcomeSuccess,
		ResourceSession, s.ID.String(), CategoryAccess, nil,
		"vehicle_id", s.VehicleID,
		"space_id", s.SpaceID.String(),
		"stayed", stayed.String(),
	)
}

// OnEntryRejected implements plugin.OnEntryRejected.
func (e *Extension) OnEntryRejected(ctx context.Context, vehicleID, lotID string, reason error) error {
	return e.record(ctx, ActionEntryRejected, SeverityInfo, OutcomeFailure,
		ResourceVehicle, vehicleID, CategoryAccess, reason,
		"lot_id", lotID,
		"kind", string(parking.KindOf(reason)),
	)
}

// ──────────────────────────────────────────────────
// Consistency hooks
// ──────────────────────────────────────────────────

// OnCompensated implements plugin.OnCompensated.
func (e *Extension) OnCompensated(ctx context.Context, spaceID id.SpaceID, cause error) error {
	return e.record(ctx, ActionCompensated, SeverityWarning, OutcomePartial,
		ResourceSpace, spaceID.String(), CategoryConsistency, cause,
	)
}

// OnReleaseDesync implements plugin.OnReleaseDesync.
func (e *Extension) OnReleaseDesync(ctx context.Context, s *session.Session, err error) error {
	return e.record(ctx, ActionReleaseDesync, SeverityError, OutcomePartial,
		ResourceSpace, s.SpaceID.String(), CategoryConsistency, err,
		"session_id", s.ID.String(),
	)
}

// ──────────────────────────────────────────────────
// Rate plan hooks
// ──────────────────────────────────────────────────

// OnRatePlanChanged implements plugin.OnRatePlanChanged.
func (e *Extension) OnRatePlanChanged(ctx context.Context, p *rateplan.Plan) error {
	return e.record(ctx, ActionRatePlanChanged, SeverityInfo, OutcomeSuccess,
		ResourceRatePlan, p.ID.String(), CategoryBilling, nil,
		"class", p.Class,
		"base", p.Base.String(),
		"hourly", p.Hourly.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
