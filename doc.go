// Package parking is the state core of a parking-lot system: it admits
// vehicles to free spaces, tracks every stay as a session and charges for it
// on exit.
//
// Parking is a library, not a service. It keeps two pieces of state and the
// coordinator between them:
//
//   - the space Registry, which knows whether each space is Available or Occupied
//   - the Sessions ledger, which records open and closed stays with their fees
//   - the Parking engine, which drives both so that a space is Occupied
//     exactly when it has an open session
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/parking"
//	    "github.com/xraph/parking/store/memory"
//	)
//
//	p := parking.New(memory.New())
//	if err := p.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
//
//	_ = p.SetRatePlan(ctx, &rateplan.Plan{Class: "standard", Base: parking.USD(5), Hourly: parking.USD(3)})
//	_ = p.ProvisionSpace(ctx, &space.Space{LotID: "lot-1", Class: "standard"})
//
//	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", time.Time{})
//	exit, err := p.ExitVehicle(ctx, "ABC123", time.Time{})
//
// # Fees
//
// The first hour, or any part of it, costs the plan's base amount. Every
// started hour after that adds the hourly amount. Money is integer minor
// units throughout.
//
// # Consistency
//
// Entry claims a space and then opens a session; if the session cannot be
// opened the claim is undone. Exit closes the session first and then frees
// the space. Both steps are compare-and-set operations in the store, guarded
// by keyed locks, so concurrent callers racing for one space or one session
// see exactly one winner.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	spc_01h2xcejqtf2nbrexx3vqjhp41   // Space ID
//	pses_01h2xcejqtf2nbrexx3vqjhp41  // Session ID
//	rate_01h455vb4pex5vsknk084sn02q  // Rate plan ID
//
// TypeIDs are K-sortable; "lowest available space" means the lowest id.
package parking
