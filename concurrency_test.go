package parking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/space"
)

func TestConcurrentEntriesSingleSpace(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	spaces := provision(t, p, "lot-1", "standard", 1)

	const n = 50
	var wins, full atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.EnterVehicle(ctx, fmt.Sprintf("CAR%03d", i), "lot-1", "standard", t0)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, parking.ErrNoAvailableSpace):
				full.Add(1)
			default:
				t.Errorf("EnterVehicle: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || full.Load() != n-1 {
		t.Fatalf("wins=%d full=%d", wins.Load(), full.Load())
	}
	if mustState(t, p, spaces[0]) != space.StateOccupied {
		t.Error("space should be occupied")
	}
	checkConsistent(t, p, "lot-1")
}

func TestConcurrentEntriesManySpaces(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 10)

	const n = 40
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.EnterVehicle(ctx, fmt.Sprintf("CAR%03d", i), "lot-1", "standard", t0)
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, parking.ErrNoAvailableSpace) {
				t.Errorf("EnterVehicle: %v", err)
			}
		}()
	}
	wg.Wait()

	// Lost claim races may exhaust an entry's attempts early, so not every
	// space is necessarily taken, but never more than exist.
	if w := wins.Load(); w < 1 || w > 10 {
		t.Fatalf("wins=%d", w)
	}
	checkConsistent(t, p, "lot-1")
}

func TestConcurrentExitsSingleSession(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := newEngine(t, parking.WithPlugin(rec))
	spaces := provision(t, p, "lot-1", "standard", 1)

	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}

	const n = 20
	var wins, closed atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.ExitVehicle(ctx, entry.SessionID.String(), t0.Add(90*time.Minute))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, parking.ErrAlreadyClosed):
				closed.Add(1)
			default:
				t.Errorf("ExitVehicle: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || closed.Load() != n-1 {
		t.Fatalf("wins=%d closed=%d", wins.Load(), closed.Load())
	}
	if rec.closed != 1 {
		t.Errorf("exactly one fee should be charged, OnSessionClosed ran %d times", rec.closed)
	}
	if len(rec.desync) != 0 {
		t.Errorf("no release desync expected, got %v", rec.desync)
	}
	if mustState(t, p, spaces[0]) != space.StateAvailable {
		t.Error("space should be available")
	}
}

func TestConcurrentEntryAndExitChurn(t *testing.T) {
	ctx := context.Background()
	p := newEngine(t)
	provision(t, p, "lot-1", "standard", 3)

	var wg sync.WaitGroup
	for w := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := fmt.Sprintf("W%d", w)
			at := t0
			for range 30 {
				_, err := p.EnterVehicle(ctx, v, "lot-1", "standard", at)
				if err != nil && !errors.Is(err, parking.ErrNoAvailableSpace) {
					t.Errorf("EnterVehicle %s: %v", v, err)
					return
				}
				at = at.Add(10 * time.Minute)
				if err == nil {
					if _, err := p.ExitVehicle(ctx, v, at); err != nil {
						t.Errorf("ExitVehicle %s: %v", v, err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	checkConsistent(t, p, "lot-1")
	occ, err := p.Occupancy(ctx, "lot-1")
	if err != nil {
		t.Fatalf("Occupancy: %v", err)
	}
	if occ.Occupied != 0 || occ.Available != 3 {
		t.Errorf("lot should be empty: %+v", occ)
	}
}
