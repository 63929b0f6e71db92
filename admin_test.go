package parking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/types"
)

func TestProvisionDefaults(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)

	sp := &space.Space{LotID: "lot-1", Label: "A-01", Class: "standard"}
	if err := p.ProvisionSpace(ctx, sp); err != nil {
		t.Fatalf("ProvisionSpace: %v", err)
	}
	if sp.ID.Prefix() != id.PrefixSpace || sp.State != space.StateAvailable || !sp.CreatedAt.Equal(t0) {
		t.Errorf("defaults not applied: %+v", sp)
	}

	got, err := p.GetSpace(ctx, sp.ID)
	if err != nil {
		t.Fatalf("GetSpace: %v", err)
	}
	if got.Label != "A-01" {
		t.Errorf("label: got %q", got.Label)
	}

	if err := p.ProvisionSpace(ctx, &space.Space{LotID: "lot-1"}); !errors.Is(err, parking.ErrInvalidInput) {
		t.Errorf("missing class: got %v", err)
	}
	if err := p.ProvisionSpace(ctx, &space.Space{LotID: "lot-1", Class: "x", State: "broken"}); !errors.Is(err, parking.ErrInvalidInput) {
		t.Errorf("bad state: got %v", err)
	}
}

func TestProvisionSpaceRefusesOccupied(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)

	sp := &space.Space{LotID: "lot-1", Class: "standard", State: space.StateOccupied}
	err := p.ProvisionSpace(ctx, sp)
	if !errors.Is(err, parking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if parking.KindOf(err) != parking.KindInvalidInput {
		t.Errorf("kind: got %q", parking.KindOf(err))
	}

	spaces, err := p.ListSpaces(ctx, "lot-1", space.ListOpts{})
	if err != nil {
		t.Fatalf("ListSpaces: %v", err)
	}
	if len(spaces) != 0 {
		t.Errorf("refused space was stored: %+v", spaces[0])
	}
}

func TestRemoveSpace(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	spaces := provision(t, p, "lot-1", "standard", 1)

	if _, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	if err := p.RemoveSpace(ctx, spaces[0]); !errors.Is(err, parking.ErrAlreadyOccupied) {
		t.Fatalf("expected ErrAlreadyOccupied, got %v", err)
	}

	if _, err := p.ExitVehicle(ctx, "ABC123", t0.Add(time.Hour)); err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}
	if err := p.RemoveSpace(ctx, spaces[0]); err != nil {
		t.Fatalf("RemoveSpace: %v", err)
	}
	if _, err := p.GetSpace(ctx, spaces[0]); !errors.Is(err, parking.ErrSpaceNotFound) {
		t.Errorf("removed space still present: %v", err)
	}
}

func TestOccupancy(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 3)
	provision(t, p, "lot-1", "compact", 2)
	provision(t, p, "lot-2", "standard", 4)

	_, _ = p.EnterVehicle(ctx, "A", "lot-1", "standard", t0)
	_, _ = p.EnterVehicle(ctx, "B", "lot-1", "standard", t0)

	occ, err := p.Occupancy(ctx, "lot-1")
	if err != nil {
		t.Fatalf("Occupancy: %v", err)
	}
	if occ.Total != 5 || occ.Occupied != 2 || occ.Available != 3 {
		t.Errorf("totals: %+v", occ)
	}
	if c := occ.ByClass["standard"]; c.Total != 3 || c.Occupied != 2 || c.Available != 1 {
		t.Errorf("standard: %+v", c)
	}
	if c := occ.ByClass["compact"]; c.Total != 2 || c.Available != 2 {
		t.Errorf("compact: %+v", c)
	}

	avail, err := p.ListSpaces(ctx, "lot-1", space.ListOpts{Class: "standard", State: space.StateAvailable})
	if err != nil {
		t.Fatalf("ListSpaces: %v", err)
	}
	if len(avail) != 1 {
		t.Errorf("available standard spaces: got %d", len(avail))
	}
}

func TestRatePlans(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)

	err := p.SetRatePlan(ctx, &rateplan.Plan{Class: "compact", Base: types.USD(3), Hourly: types.EUR(2)})
	if !errors.Is(err, parking.ErrInvalidInput) {
		t.Errorf("mixed currency: got %v", err)
	}
	err = p.SetRatePlan(ctx, &rateplan.Plan{Class: "compact", Base: types.USD(-1), Hourly: types.USD(2)})
	if !errors.Is(err, parking.ErrInvalidInput) {
		t.Errorf("negative base: got %v", err)
	}

	if err := p.SetRatePlan(ctx, &rateplan.Plan{Class: "compact", Base: types.USD(3), Hourly: types.USD(2)}); err != nil {
		t.Fatalf("SetRatePlan: %v", err)
	}
	plans, err := p.ListRatePlans(ctx)
	if err != nil {
		t.Fatalf("ListRatePlans: %v", err)
	}
	if len(plans) != 2 || plans[0].Class != "compact" || plans[1].Class != "standard" {
		t.Errorf("plans: %+v", plans)
	}

	if _, err := p.RatePlan(ctx, "truck"); !errors.Is(err, parking.ErrRatePlanNotFound) || parking.IDOf(err) != "truck" {
		t.Errorf("missing plan: got %v", err)
	}
}

func TestRatePlanLookupOverride(t *testing.T) {
	ctx := context.Background()
	flat := parking.RatePlanLookupFunc(func(_ context.Context, class string) (*rateplan.Plan, error) {
		return &rateplan.Plan{Class: class, Base: types.USD(1), Hourly: types.USD(1)}, nil
	})
	p := newEngine(t, parking.WithRatePlanLookup(flat))
	provision(t, p, "lot-1", "truck", 1)

	if _, err := p.EnterVehicle(ctx, "BIG1", "lot-1", "truck", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	exit, err := p.ExitVehicle(ctx, "BIG1", t0.Add(150*time.Minute))
	if err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}
	if exit.Fee.Amount != 3 {
		t.Errorf("fee: got %d, want 3", exit.Fee.Amount)
	}
}

func TestHistoryByVehicle(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 1)

	for i := range 3 {
		at := t0.Add(time.Duration(i) * 3 * time.Hour)
		if _, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", at); err != nil {
			t.Fatalf("EnterVehicle: %v", err)
		}
		if _, err := p.ExitVehicle(ctx, "ABC123", at.Add(time.Hour)); err != nil {
			t.Fatalf("ExitVehicle: %v", err)
		}
	}

	hist, err := p.History(ctx, session.ListOpts{VehicleID: "ABC123", Limit: 2})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || !hist[0].EntryTime.Equal(t0.Add(6*time.Hour)) {
		t.Errorf("history: %+v", hist)
	}
	for _, s := range hist {
		if s.IsOpen() || s.Fee == nil || s.Fee.Amount != 5 {
			t.Errorf("closed session expected with fee 5: %+v", s)
		}
	}
}
