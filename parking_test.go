package parking_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/store/memory"
	"github.com/xraph/parking/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEngine starts an engine over a fresh memory store with the standard
// plan (base 5, hourly 3) installed.
func newEngine(t *testing.T, opts ...parking.Option) *parking.Parking {
	t.Helper()
	clock := func() time.Time { return t0 }
	opts = append([]parking.Option{
		parking.WithLogger(discardLogger()),
		parking.WithClock(clock),
	}, opts...)

	p := parking.New(memory.New(memory.WithClock(clock)), opts...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })

	if err := p.SetRatePlan(context.Background(), standardPlan()); err != nil {
		t.Fatalf("SetRatePlan: %v", err)
	}
	return p
}

// provision adds n spaces of class to lot and returns their ids in
// ascending order.
func provision(t *testing.T, p *parking.Parking, lot, class string, n int) []id.SpaceID {
	t.Helper()
	ids := make([]id.SpaceID, 0, n)
	for range n {
		sp := &space.Space{LotID: lot, Class: class}
		if err := p.ProvisionSpace(context.Background(), sp); err != nil {
			t.Fatalf("ProvisionSpace: %v", err)
		}
		ids = append(ids, sp.ID)
	}
	slices.SortFunc(ids, func(a, b id.SpaceID) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return ids
}

func mustState(t *testing.T, p *parking.Parking, spaceID id.SpaceID) space.State {
	t.Helper()
	st, err := p.QuerySpaceState(context.Background(), spaceID)
	if err != nil {
		t.Fatalf("QuerySpaceState: %v", err)
	}
	return st
}

type recorder struct {
	mu          sync.Mutex
	opened      int
	closed      int
	rejected    []error
	compensated []id.SpaceID
	desync      []error
	overstay    []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnSessionOpened(context.Context, *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return nil
}

func (r *recorder) OnSessionClosed(context.Context, *session.Session, time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recorder) OnEntryRejected(_ context.Context, _, _ string, reason error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
	return nil
}

func (r *recorder) OnCompensated(_ context.Context, spaceID id.SpaceID, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensated = append(r.compensated, spaceID)
	return nil
}

func (r *recorder) OnReleaseDesync(_ context.Context, _ *session.Session, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desync = append(r.desync, err)
	return nil
}

func (r *recorder) OnSessionOverstay(_ context.Context, s *session.Session, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overstay = append(r.overstay, s.VehicleID)
	return nil
}

// ──────────────────────────────────────────────────
// Entry and exit
// ──────────────────────────────────────────────────

func TestSingleSpaceScenario(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	spaces := provision(t, p, "lot-1", "standard", 1)
	s := spaces[0]

	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if err != nil {
		t.Fatalf("EnterVehicle ABC123: %v", err)
	}
	if entry.SpaceID != s {
		t.Errorf("expected space %s, got %s", s, entry.SpaceID)
	}
	if mustState(t, p, s) != space.StateOccupied {
		t.Error("space should be occupied")
	}

	_, err = p.EnterVehicle(ctx, "XYZ999", "lot-1", "standard", t0.Add(time.Minute))
	if !errors.Is(err, parking.ErrNoAvailableSpace) {
		t.Fatalf("EnterVehicle XYZ999: expected ErrNoAvailableSpace, got %v", err)
	}
	if parking.KindOf(err) != parking.KindNoAvailableSpace {
		t.Errorf("kind: got %q", parking.KindOf(err))
	}

	exit, err := p.ExitVehicle(ctx, "ABC123", t0.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}
	if !exit.Fee.Equal(types.USD(8)) {
		t.Errorf("fee: got %v, want 8", exit.Fee)
	}
	if exit.Duration != 90*time.Minute || exit.SessionID != entry.SessionID || exit.SpaceID != s {
		t.Errorf("unexpected exit: %+v", exit)
	}
	if mustState(t, p, s) != space.StateAvailable {
		t.Error("space should be available after exit")
	}

	again, err := p.EnterVehicle(ctx, "XYZ999", "lot-1", "standard", t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("EnterVehicle XYZ999 retry: %v", err)
	}
	if again.SpaceID != s {
		t.Errorf("expected space %s, got %s", s, again.SpaceID)
	}
}

func TestEnterPicksLowestAvailable(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	spaces := provision(t, p, "lot-1", "standard", 3)
	provision(t, p, "lot-1", "compact", 2)

	for i, v := range []string{"A", "B", "C"} {
		e, err := p.EnterVehicle(ctx, v, "lot-1", "standard", time.Time{})
		if err != nil {
			t.Fatalf("EnterVehicle %s: %v", v, err)
		}
		if e.SpaceID != spaces[i] {
			t.Errorf("%s: expected space %d", v, i)
		}
	}

	if _, err := p.ExitVehicle(ctx, "B", t0.Add(time.Hour)); err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}
	e, err := p.EnterVehicle(ctx, "D", "lot-1", "standard", time.Time{})
	if err != nil {
		t.Fatalf("EnterVehicle D: %v", err)
	}
	if e.SpaceID != spaces[1] {
		t.Errorf("D should reuse the freed lowest space")
	}
}

// losingStore loses every claim race, as if another entry always got to the
// candidate space first.
type losingStore struct {
	*memory.Store

	mu      sync.Mutex
	claimed []id.SpaceID
}

func (s *losingStore) ClaimSpace(_ context.Context, spaceID id.SpaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = append(s.claimed, spaceID)
	return parking.ErrAlreadyOccupied
}

func TestEnterGivesUpAfterClaimAttempts(t *testing.T) {
	ctx := context.Background()
	st := &losingStore{Store: memory.New()}
	p := parking.New(st,
		parking.WithLogger(discardLogger()),
		parking.WithClock(func() time.Time { return t0 }),
		parking.WithClaimAttempts(3),
	)
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	spaces := provision(t, p, "lot-1", "standard", 5)

	_, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if !errors.Is(err, parking.ErrNoAvailableSpace) || parking.KindOf(err) != parking.KindNoAvailableSpace {
		t.Fatalf("expected NoAvailableSpace, got %v (%q)", err, parking.KindOf(err))
	}

	// Each retry excludes the candidates already lost, lowest id first.
	if !slices.Equal(st.claimed, spaces[:3]) {
		t.Errorf("claimed %v, want %v", st.claimed, spaces[:3])
	}
	for _, sid := range spaces {
		if mustState(t, p, sid) != space.StateAvailable {
			t.Errorf("space %s changed state", sid)
		}
	}
	if _, ok, _ := p.QueryOpenSession(ctx, "ABC123"); ok {
		t.Error("no session may be open after a failed entry")
	}
}

func TestDoubleEntryRejected(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newEngine(t, parking.WithPlugin(rec))
	provision(t, p, "lot-1", "standard", 2)

	if _, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	_, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if !errors.Is(err, parking.ErrVehicleAlreadyParked) {
		t.Fatalf("expected ErrVehicleAlreadyParked, got %v", err)
	}
	if parking.IDOf(err) != "ABC123" {
		t.Errorf("IDOf: got %q", parking.IDOf(err))
	}

	occ, err := p.Occupancy(ctx, "lot-1")
	if err != nil {
		t.Fatalf("Occupancy: %v", err)
	}
	if occ.Occupied != 1 {
		t.Errorf("rejected entry must not claim a space: occupied=%d", occ.Occupied)
	}
	if len(rec.rejected) != 1 {
		t.Errorf("OnEntryRejected: got %d calls", len(rec.rejected))
	}
}

func TestEnterValidation(t *testing.T) {
	p := newEngine(t)
	_, err := p.EnterVehicle(context.Background(), "", "lot-1", "standard", t0)
	if !errors.Is(err, parking.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	var ve parking.ValidationError
	if !errors.As(err, &ve) || ve.Field != "vehicle_id" {
		t.Errorf("expected vehicle_id validation error, got %v", err)
	}
}

func TestRecordsStampedWithEngineClock(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	spaces := provision(t, p, "lot-1", "standard", 1)

	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	if _, err := p.ExitVehicle(ctx, entry.SessionID.String(), t0.Add(time.Hour)); err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}

	sp, err := p.GetSpace(ctx, spaces[0])
	if err != nil {
		t.Fatalf("GetSpace: %v", err)
	}
	if !sp.UpdatedAt.Equal(t0) {
		t.Errorf("space UpdatedAt = %v, want %v", sp.UpdatedAt, t0)
	}
	s, err := p.Sessions().Get(ctx, entry.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !s.UpdatedAt.Equal(t0) {
		t.Errorf("session UpdatedAt = %v, want %v", s.UpdatedAt, t0)
	}
}

func TestExitBySessionID(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 1)

	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}

	exit, err := p.ExitVehicle(ctx, entry.SessionID.String(), t0.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}
	if exit.Fee.Amount != 11 {
		t.Errorf("fee: got %d, want 11", exit.Fee.Amount)
	}

	_, err = p.ExitVehicle(ctx, entry.SessionID.String(), t0.Add(4*time.Hour))
	if !errors.Is(err, parking.ErrAlreadyClosed) {
		t.Errorf("second exit: expected ErrAlreadyClosed, got %v", err)
	}
}

func TestExitUnknown(t *testing.T) {
	p := newEngine(t)
	_, err := p.ExitVehicle(context.Background(), "NOPE", t0)
	if !errors.Is(err, parking.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if !parking.IsNotFound(err) {
		t.Error("IsNotFound should hold")
	}
}

func TestExitBeforeEntryMutatesNothing(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	spaces := provision(t, p, "lot-1", "standard", 1)

	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}

	_, err = p.ExitVehicle(ctx, "ABC123", t0.Add(-time.Minute))
	if !errors.Is(err, parking.ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}

	sid, ok, err := p.QueryOpenSession(ctx, "ABC123")
	if err != nil || !ok || sid != entry.SessionID {
		t.Errorf("session should still be open: %v %v %v", sid, ok, err)
	}
	if mustState(t, p, spaces[0]) != space.StateOccupied {
		t.Error("space should still be occupied")
	}
}

func TestExitWithoutRatePlan(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "truck", 1)

	if _, err := p.EnterVehicle(ctx, "BIG1", "lot-1", "truck", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	_, err := p.ExitVehicle(ctx, "BIG1", t0.Add(time.Hour))
	if !errors.Is(err, parking.ErrRatePlanNotFound) {
		t.Fatalf("expected ErrRatePlanNotFound, got %v", err)
	}
	if _, ok, _ := p.QueryOpenSession(ctx, "BIG1"); !ok {
		t.Error("session must stay open when pricing fails")
	}
}

func TestExitWithInvalidLookupPlan(t *testing.T) {
	ctx := context.Background()
	lookup := parking.RatePlanLookupFunc(func(context.Context, string) (*rateplan.Plan, error) {
		return &rateplan.Plan{Class: "standard", Base: types.USD(500)}, nil
	})
	p := newEngine(t, parking.WithRatePlanLookup(lookup))
	spaces := provision(t, p, "lot-1", "standard", 1)

	if _, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	_, err := p.ExitVehicle(ctx, "ABC123", t0.Add(90*time.Minute))
	if !errors.Is(err, parking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, ok, _ := p.QueryOpenSession(ctx, "ABC123"); !ok {
		t.Error("session must stay open when pricing fails")
	}
	if mustState(t, p, spaces[0]) != space.StateOccupied {
		t.Error("space must stay occupied when pricing fails")
	}
}

func TestQueryOpenSession(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 1)

	if _, ok, err := p.QueryOpenSession(ctx, "ABC123"); ok || err != nil {
		t.Fatalf("expected no session, got ok=%v err=%v", ok, err)
	}
	entry, _ := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	sid, ok, err := p.QueryOpenSession(ctx, "ABC123")
	if err != nil || !ok || sid != entry.SessionID {
		t.Errorf("QueryOpenSession: %v %v %v", sid, ok, err)
	}
}

func TestQuerySpaceStateUnknown(t *testing.T) {
	p := newEngine(t)
	_, err := p.QuerySpaceState(context.Background(), id.NewSpaceID())
	if !errors.Is(err, parking.ErrSpaceNotFound) || parking.KindOf(err) != parking.KindNotFound {
		t.Errorf("expected not found, got %v (%q)", err, parking.KindOf(err))
	}
}

// ──────────────────────────────────────────────────
// Compensation and desync
// ──────────────────────────────────────────────────

func TestEntryCompensatesWhenSessionCannotOpen(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newEngine(t, parking.WithPlugin(rec))
	spaces := provision(t, p, "lot-1", "standard", 1)

	// A session on the space that the registry does not know about.
	if _, err := p.Sessions().Open(ctx, "GHOST", spaces[0], "lot-1", "standard", t0); err != nil {
		t.Fatalf("Open ghost: %v", err)
	}

	_, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if !errors.Is(err, parking.ErrSpaceAlreadyInSession) {
		t.Fatalf("expected ErrSpaceAlreadyInSession, got %v", err)
	}
	if mustState(t, p, spaces[0]) != space.StateAvailable {
		t.Error("claimed space must be released by compensation")
	}
	if len(rec.compensated) != 1 || rec.compensated[0] != spaces[0] {
		t.Errorf("OnCompensated: %v", rec.compensated)
	}
	if _, ok, _ := p.QueryOpenSession(ctx, "ABC123"); ok {
		t.Error("no session may be open for the rejected vehicle")
	}
}

func TestExitToleratesReleaseDesync(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newEngine(t, parking.WithPlugin(rec))
	spaces := provision(t, p, "lot-1", "standard", 1)

	if _, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	// Free the space behind the ledger's back.
	if err := p.Registry().Release(ctx, spaces[0]); err != nil {
		t.Fatalf("Release: %v", err)
	}

	exit, err := p.ExitVehicle(ctx, "ABC123", t0.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ExitVehicle should succeed despite desync: %v", err)
	}
	if exit.Fee.Amount != 5 {
		t.Errorf("fee: got %d", exit.Fee.Amount)
	}
	if len(rec.desync) != 1 || !parking.IsWarning(rec.desync[0]) {
		t.Errorf("OnReleaseDesync: %v", rec.desync)
	}
	if mustState(t, p, spaces[0]) != space.StateAvailable {
		t.Error("space should be available")
	}
}

// ──────────────────────────────────────────────────
// Consistency
// ──────────────────────────────────────────────────

// checkConsistent asserts that every space is Occupied exactly when it has an
// open session and that no vehicle holds two open sessions.
func checkConsistent(t *testing.T, p *parking.Parking, lot string) {
	t.Helper()
	ctx := context.Background()

	spaces, err := p.ListSpaces(ctx, lot, space.ListOpts{})
	if err != nil {
		t.Fatalf("ListSpaces: %v", err)
	}
	for _, sp := range spaces {
		_, err := p.Sessions().FindOpenBySpace(ctx, sp.ID)
		hasOpen := err == nil
		if err != nil && !errors.Is(err, parking.ErrSessionNotFound) {
			t.Fatalf("FindOpenBySpace: %v", err)
		}
		if hasOpen != (sp.State == space.StateOccupied) {
			t.Fatalf("space %s: state %s, open session %v", sp.ID, sp.State, hasOpen)
		}
	}

	open, err := p.History(ctx, session.ListOpts{LotID: lot, Status: session.StatusOpen})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	seen := make(map[string]bool)
	for _, s := range open {
		if seen[s.VehicleID] {
			t.Fatalf("vehicle %s has two open sessions", s.VehicleID)
		}
		seen[s.VehicleID] = true
	}
}

func TestRandomEntryExitConsistency(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 4)
	provision(t, p, "lot-1", "compact", 2)
	if err := p.SetRatePlan(ctx, &rateplan.Plan{Class: "compact", Base: types.USD(3), Hourly: types.USD(2)}); err != nil {
		t.Fatalf("SetRatePlan: %v", err)
	}

	rng := rand.New(rand.NewPCG(7, 11))
	vehicles := []string{"V1", "V2", "V3", "V4", "V5", "V6", "V7", "V8"}
	classes := []string{"standard", "compact"}
	now := t0

	for range 400 {
		now = now.Add(time.Duration(rng.IntN(90)) * time.Minute)
		v := vehicles[rng.IntN(len(vehicles))]

		if rng.IntN(2) == 0 {
			_, err := p.EnterVehicle(ctx, v, "lot-1", classes[rng.IntN(len(classes))], now)
			if err != nil && !errors.Is(err, parking.ErrVehicleAlreadyParked) && !errors.Is(err, parking.ErrNoAvailableSpace) {
				t.Fatalf("EnterVehicle %s: %v", v, err)
			}
		} else {
			exit, err := p.ExitVehicle(ctx, v, now)
			switch {
			case err == nil:
				if exit.Fee.IsNegative() {
					t.Fatalf("negative fee %v", exit.Fee)
				}
			case !errors.Is(err, parking.ErrSessionNotFound):
				t.Fatalf("ExitVehicle %s: %v", v, err)
			}
		}

		checkConsistent(t, p, "lot-1")
	}
}

// ──────────────────────────────────────────────────
// Overstay sweep
// ──────────────────────────────────────────────────

func TestSweepOverstays(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newEngine(t,
		parking.WithPlugin(rec),
		parking.WithOverstaySweep("@every 1h", 2*time.Hour),
	)
	provision(t, p, "lot-1", "standard", 3)

	if _, err := p.EnterVehicle(ctx, "OLD", "lot-1", "standard", t0.Add(-3*time.Hour)); err != nil {
		t.Fatalf("EnterVehicle OLD: %v", err)
	}
	if _, err := p.EnterVehicle(ctx, "NEW", "lot-1", "standard", t0.Add(-time.Hour)); err != nil {
		t.Fatalf("EnterVehicle NEW: %v", err)
	}
	if _, err := p.EnterVehicle(ctx, "GONE", "lot-1", "standard", t0.Add(-5*time.Hour)); err != nil {
		t.Fatalf("EnterVehicle GONE: %v", err)
	}
	if _, err := p.ExitVehicle(ctx, "GONE", t0.Add(-4*time.Hour)); err != nil {
		t.Fatalf("ExitVehicle GONE: %v", err)
	}

	n, err := p.SweepOverstays(ctx)
	if err != nil {
		t.Fatalf("SweepOverstays: %v", err)
	}
	if n != 1 || len(rec.overstay) != 1 || rec.overstay[0] != "OLD" {
		t.Errorf("overstays: n=%d recorded=%v", n, rec.overstay)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	p := parking.New(memory.New(),
		parking.WithLogger(discardLogger()),
		parking.WithOverstaySweep("not a schedule", time.Hour),
	)
	if err := p.Start(context.Background()); err == nil {
		_ = p.Stop()
		t.Fatal("expected schedule error")
	}
}
