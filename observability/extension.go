// Package observability provides a metrics extension for the parking engine
// that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/plugin"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnSpaceProvisioned = (*MetricsExtension)(nil)
	_ plugin.OnSpaceRemoved     = (*MetricsExtension)(nil)
	_ plugin.OnSessionOpened    = (*MetricsExtension)(nil)
	_ plugin.OnSessionClosed    = (*MetricsExtension)(nil)
	_ plugin.OnEntryRejected    = (*MetricsExtension)(nil)
	_ plugin.OnSessionOverstay  = (*MetricsExtension)(nil)
	_ plugin.OnCompensated      = (*MetricsExtension)(nil)
	_ plugin.OnReleaseDesync    = (*MetricsExtension)(nil)
	_ plugin.OnRatePlanChanged  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a parking plugin to track occupancy traffic.
type MetricsExtension struct {
	factory MetricFactory

	// Space metrics
	SpaceProvisioned Counter
	SpaceRemoved     Counter

	// Session metrics
	SessionOpened   Counter
	SessionClosed   Counter
	SessionOverstay Counter
	StayMinutes     Histogram
	FeeCharged      Histogram

	// Entry rejections
	EntryRejected    Counter
	EntryNoSpace     Counter
	EntryAlreadyHere Counter

	// Consistency metrics
	Compensated   Counter
	ReleaseDesync Counter

	// Rate plan metrics
	RatePlanChanged Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		SpaceProvisioned: factory.Counter("parking.space.provisioned"),
		SpaceRemoved:     factory.Counter("parking.space.removed"),

		SessionOpened:   factory.Counter("parking.session.opened"),
		SessionClosed:   factory.Counter("parking.session.closed"),
		SessionOverstay: factory.Counter("parking.session.overstay"),
		StayMinutes:     factory.Histogram("parking.session.stay_minutes"),
		FeeCharged:      factory.Histogram("parking.session.fee_minor_units"),

		EntryRejected:    factory.Counter("parking.entry.rejected"),
		EntryNoSpace:     factory.Counter("parking.entry.no_space"),
		EntryAlreadyHere: factory.Counter("parking.entry.already_parked"),

		Compensated:   factory.Counter("parking.compensated"),
		ReleaseDesync: factory.Counter("parking.release.desync"),

		RatePlanChanged: factory.Counter("parking.rateplan.changed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Space hooks
// ──────────────────────────────────────────────────

// OnSpaceProvisioned implements plugin.OnSpaceProvisioned.
func (m *MetricsExtension) OnSpaceProvisioned(_ context.Context, _ *space.Space) error {
	m.SpaceProvisioned.Inc()
	return nil
}

// OnSpaceRemoved implements plugin.OnSpaceRemoved.
func (m *MetricsExtension) OnSpaceRemoved(_ context.Context, _ id.SpaceID) error {
	m.SpaceRemoved.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionOpened implements plugin.OnSessionOpened.
func (m *MetricsExtension) OnSessionOpened(_ context.Context, _ *session.Session) error {
	m.SessionOpened.Inc()
	return nil
}

// OnSessionClosed implements plugin.OnSessionClosed.
func (m *MetricsExtension) OnSessionClosed(_ context.Context, s *session.Session, stayed time.Duration) error {
	m.SessionClosed.Inc()
	m.StayMinutes.Observe(stayed.Minutes())
	if s.Fee != nil {
		m.FeeCharged.Observe(float64(s.Fee.Amount))
	}
	return nil
}

// OnEntryRejected implements plugin.OnEntryRejected.
func (m *MetricsExtension) OnEntryRejected(_ context.Context, _, _ string, reason error) error {
	m.EntryRejected.Inc()
	switch {
	case errors.Is(reason, parking.ErrNoAvailableSpace):
		m.EntryNoSpace.Inc()
	case errors.Is(reason, parking.ErrVehicleAlreadyParked):
		m.EntryAlreadyHere.Inc()
	}
	return nil
}

// OnSessionOverstay implements plugin.OnSessionOverstay.
func (m *MetricsExtension) OnSessionOverstay(_ context.Context, _ *session.Session, _ time.Duration) error {
	m.SessionOverstay.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Consistency hooks
// ──────────────────────────────────────────────────

// OnCompensated implements plugin.OnCompensated.
func (m *MetricsExtension) OnCompensated(_ context.Context, _ id.SpaceID, _ error) error {
	m.Compensated.Inc()
	return nil
}

// OnReleaseDesync implements plugin.OnReleaseDesync.
func (m *MetricsExtension) OnReleaseDesync(_ context.Context, _ *session.Session, _ error) error {
	m.ReleaseDesync.Inc()
	return nil
}

// OnRatePlanChanged implements plugin.OnRatePlanChanged.
func (m *MetricsExtension) OnRatePlanChanged(_ context.Context, _ *rateplan.Plan) error {
	m.RatePlanChanged.Inc()
	return nil
}
