package parking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/keylock"
	"github.com/xraph/parking/plugin"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/store"
	"github.com/xraph/parking/types"
)

// DefaultClaimAttempts is how many candidate spaces an entry tries before
// giving up with ErrNoAvailableSpace.
const DefaultClaimAttempts = 3

// RatePlanLookup resolves the rate plan for a vehicle class.
type RatePlanLookup interface {
	RatePlan(ctx context.Context, class string) (*rateplan.Plan, error)
}

// RatePlanLookupFunc adapts a function to RatePlanLookup.
type RatePlanLookupFunc func(ctx context.Context, class string) (*rateplan.Plan, error)

// RatePlan implements RatePlanLookup.
func (f RatePlanLookupFunc) RatePlan(ctx context.Context, class string) (*rateplan.Plan, error) {
	return f(ctx, class)
}

// Entry is the result of admitting a vehicle.
type Entry struct {
	SessionID id.SessionID `json:"session_id"`
	SpaceID   id.SpaceID   `json:"space_id"`
}

// Exit is the result of a vehicle leaving.
type Exit struct {
	SessionID id.SessionID     `json:"session_id"`
	SpaceID   id.SpaceID       `json:"space_id"`
	Fee       types.Money      `json:"fee"`
	Duration  time.Duration    `json:"duration"`
	Session   *session.Session `json:"session"`
}

// Parking coordinates the space registry and the session ledger so that a
// space is Occupied exactly when it has an open session.
type Parking struct {
	store    store.Store
	registry *Registry
	sessions *Sessions
	rates    RatePlanLookup
	plugins  *plugin.Registry
	locks    keylock.Locker
	logger   *slog.Logger
	clock    func() time.Time

	claimAttempts int

	// Overstay sweep
	sweepSchedule string
	maxStay       time.Duration
	cron          *cron.Cron
	stopOnce      sync.Once
}

// New creates a new Parking engine over s.
func New(s store.Store, opts ...Option) *Parking {
	p := &Parking{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		clock:         time.Now,
		claimAttempts: DefaultClaimAttempts,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.locks == nil {
		p.locks = keylock.New()
	}
	if p.rates == nil {
		p.rates = storeRates{s}
	}
	p.registry = NewRegistry(store.Spaces(s), p.locks, p.logger)
	p.sessions = NewSessions(store.Sessions(s), p.locks, p.logger, p.clock)

	return p
}

// Option configures a Parking instance.
type Option func(*Parking)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parking) {
		p.logger = logger
		p.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(pl plugin.Plugin) Option {
	return func(p *Parking) {
		_ = p.plugins.Register(pl) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the clock used when a caller passes a zero time.
func WithClock(now func() time.Time) Option {
	return func(p *Parking) {
		if now != nil {
			p.clock = now
		}
	}
}

// WithLocker replaces the in-process keyed locker, e.g. with a redislock.Locker
// shared by several processes.
func WithLocker(l keylock.Locker) Option {
	return func(p *Parking) {
		p.locks = l
	}
}

// WithClaimAttempts sets how many candidates an entry tries.
func WithClaimAttempts(n int) Option {
	return func(p *Parking) {
		if n > 0 {
			p.claimAttempts = n
		}
	}
}

// WithRatePlanLookup overrides where rate plans come from.
func WithRatePlanLookup(l RatePlanLookup) Option {
	return func(p *Parking) {
		p.rates = l
	}
}

// WithOverstaySweep runs a cron job on schedule that reports open sessions
// older than maxStay through the OnSessionOverstay hook.
func WithOverstaySweep(schedule string, maxStay time.Duration) Option {
	return func(p *Parking) {
		p.sweepSchedule = schedule
		p.maxStay = maxStay
	}
}

// Registry returns the space registry.
func (p *Parking) Registry() *Registry { return p.registry }

// Sessions returns the session ledger.
func (p *Parking) Sessions() *Sessions { return p.sessions }

// Plugins returns the plugin registry.
func (p *Parking) Plugins() *plugin.Registry { return p.plugins }

// Store returns the underlying store.
func (p *Parking) Store() store.Store { return p.store }

// Start migrates the store, initializes plugins and starts background jobs.
func (p *Parking) Start(ctx context.Context) error {
	if err := p.store.Migrate(ctx); err != nil {
		return err
	}

	p.plugins.EmitInit(ctx, p)

	if p.sweepSchedule != "" && p.maxStay > 0 {
		c := cron.New()
		if _, err := c.AddFunc(p.sweepSchedule, func() {
			if _, err := p.SweepOverstays(context.Background()); err != nil {
				p.logger.Error("overstay sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("parking: overstay schedule %q: %w", p.sweepSchedule, err)
		}
		c.Start()
		p.cron = c
	}

	p.logger.Info("parking started",
		"claim_attempts", p.claimAttempts,
		"overstay_schedule", p.sweepSchedule,
		"max_stay", p.maxStay,
	)

	return nil
}

// Stop waits for running jobs, notifies plugins and closes the store.
func (p *Parking) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.cron != nil {
			<-p.cron.Stop().Done()
		}

		p.plugins.EmitShutdown(context.Background())

		err = p.store.Close()
		p.logger.Info("parking stopped")
	})
	return err
}

func (p *Parking) now() time.Time { return p.clock().UTC() }

// ──────────────────────────────────────────────────
// Entry
// ──────────────────────────────────────────────────

// EnterVehicle admits vehicleID into lotID, allocating the lowest-id
// Available space of the given class and opening a session on it. A zero
// entryTime means now.
func (p *Parking) EnterVehicle(ctx context.Context, vehicleID, lotID, class string, entryTime time.Time) (*Entry, error) {
	if err := requireFields("vehicle_id", vehicleID, "lot_id", lotID, "class", class); err != nil {
		return nil, err
	}
	if entryTime.IsZero() {
		entryTime = p.now()
	}

	switch _, err := p.sessions.FindOpenByVehicle(ctx, vehicleID); {
	case err == nil:
		err = &Error{Kind: KindVehicleAlreadyParked, ID: vehicleID, Err: ErrVehicleAlreadyParked}
		p.plugins.EmitEntryRejected(ctx, vehicleID, lotID, err)
		return nil, err
	case !errors.Is(err, ErrSessionNotFound):
		return nil, err
	}

	spaceID, err := p.claimSpace(ctx, lotID, class)
	if err != nil {
		p.plugins.EmitEntryRejected(ctx, vehicleID, lotID, err)
		return nil, err
	}

	s, err := p.sessions.Open(ctx, vehicleID, spaceID, lotID, class, entryTime)
	if err != nil {
		p.compensate(ctx, spaceID, err)
		p.plugins.EmitEntryRejected(ctx, vehicleID, lotID, err)
		return nil, err
	}

	p.plugins.EmitSessionOpened(ctx, s)
	p.logger.Debug("vehicle entered",
		"vehicle_id", vehicleID,
		"lot_id", lotID,
		"space_id", spaceID,
		"session_id", s.ID,
	)

	return &Entry{SessionID: s.ID, SpaceID: spaceID}, nil
}

// claimSpace finds and claims a space, moving on to the next candidate when
// another entry wins the race for the current one.
func (p *Parking) claimSpace(ctx context.Context, lotID, class string) (id.SpaceID, error) {
	var lost []id.SpaceID
	for range p.claimAttempts {
		spaceID, err := p.registry.FindAvailable(ctx, lotID, class, lost...)
		if err != nil {
			return id.Nil, err
		}

		err = p.registry.Claim(ctx, spaceID)
		if err == nil {
			return spaceID, nil
		}
		if !errors.Is(err, ErrAlreadyOccupied) && !errors.Is(err, ErrSpaceNotFound) {
			return id.Nil, err
		}

		p.logger.Debug("lost claim race", "space_id", spaceID, "error", err)
		lost = append(lost, spaceID)
	}
	return id.Nil, &Error{Kind: KindNoAvailableSpace, ID: lotID + "/" + class, Err: ErrNoAvailableSpace}
}

// compensate gives a claimed space back after the session could not be
// opened. It runs on a context the caller cannot cancel.
func (p *Parking) compensate(ctx context.Context, spaceID id.SpaceID, cause error) {
	ctx = context.WithoutCancel(ctx)

	if err := p.registry.Release(ctx, spaceID); err != nil {
		p.logger.Error("compensating release failed",
			"space_id", spaceID,
			"cause", cause,
			"error", err,
		)
	} else {
		p.logger.Warn("entry compensated",
			"space_id", spaceID,
			"cause", cause,
		)
	}

	p.plugins.EmitCompensated(ctx, spaceID, cause)
}

// ──────────────────────────────────────────────────
// Exit
// ──────────────────────────────────────────────────

// ExitVehicle closes the session identified by identifier, which is either a
// session id or the vehicle id of an open session, charges it and frees its
// space. A zero exitTime means now.
func (p *Parking) ExitVehicle(ctx context.Context, identifier string, exitTime time.Time) (*Exit, error) {
	if identifier == "" {
		return nil, ValidationError{Field: "identifier", Message: "required"}
	}
	if exitTime.IsZero() {
		exitTime = p.now()
	}

	s, err := p.resolveSession(ctx, identifier)
	if err != nil {
		return nil, err
	}

	plan, err := p.rates.RatePlan(ctx, s.Class)
	if err != nil {
		return nil, wrapID(err, s.Class)
	}

	closed, stayed, err := p.sessions.Close(ctx, s.ID, exitTime, func(d time.Duration) (types.Money, error) {
		return Fee(d, plan)
	})
	if err != nil {
		return nil, err
	}

	// The session is closed; from here on nothing fails the exit.
	if err := p.registry.Release(context.WithoutCancel(ctx), closed.SpaceID); err != nil {
		if IsWarning(err) {
			p.logger.Warn("space was not occupied at exit",
				"space_id", closed.SpaceID,
				"session_id", closed.ID,
			)
		} else {
			p.logger.Error("release after exit failed",
				"space_id", closed.SpaceID,
				"session_id", closed.ID,
				"error", err,
			)
		}
		p.plugins.EmitReleaseDesync(ctx, closed, err)
	}

	p.plugins.EmitSessionClosed(ctx, closed, stayed)
	p.logger.Debug("vehicle exited",
		"vehicle_id", closed.VehicleID,
		"session_id", closed.ID,
		"space_id", closed.SpaceID,
		"fee", closed.Fee.String(),
	)

	return &Exit{
		SessionID: closed.ID,
		SpaceID:   closed.SpaceID,
		Fee:       *closed.Fee,
		Duration:  stayed,
		Session:   closed,
	}, nil
}

func (p *Parking) resolveSession(ctx context.Context, identifier string) (*session.Session, error) {
	if sessionID, err := id.ParseSessionID(identifier); err == nil {
		return p.sessions.Get(ctx, sessionID)
	}
	return p.sessions.FindOpenByVehicle(ctx, identifier)
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// QuerySpaceState reports whether a space is Available or Occupied.
func (p *Parking) QuerySpaceState(ctx context.Context, spaceID id.SpaceID) (space.State, error) {
	return p.registry.State(ctx, spaceID)
}

// QueryOpenSession returns the vehicle's open session id, if any.
func (p *Parking) QueryOpenSession(ctx context.Context, vehicleID string) (id.SessionID, bool, error) {
	s, err := p.sessions.FindOpenByVehicle(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return id.Nil, false, nil
		}
		return id.Nil, false, err
	}
	return s.ID, true, nil
}

// ──────────────────────────────────────────────────
// Overstay sweep
// ──────────────────────────────────────────────────

// SweepOverstays reports every open session that entered more than the
// configured maximum stay ago and returns how many it found. It never
// mutates state.
func (p *Parking) SweepOverstays(ctx context.Context) (int, error) {
	if p.maxStay <= 0 {
		return 0, nil
	}

	now := p.now()
	overdue, err := p.sessions.History(ctx, session.ListOpts{
		Status:       session.StatusOpen,
		EnteredUntil: now.Add(-p.maxStay),
	})
	if err != nil {
		return 0, err
	}

	for _, s := range overdue {
		p.plugins.EmitSessionOverstay(ctx, s, s.Duration(now))
	}

	if len(overdue) > 0 {
		p.logger.Info("overstays found", "count", len(overdue), "max_stay", p.maxStay)
	}
	return len(overdue), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// requireFields takes name/value pairs and reports the first empty value.
func requireFields(kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return ValidationError{Field: kv[i], Message: "required"}
		}
	}
	return nil
}

type storeRates struct{ s store.Store }

func (r storeRates) RatePlan(ctx context.Context, class string) (*rateplan.Plan, error) {
	return r.s.GetRatePlan(ctx, class)
}
