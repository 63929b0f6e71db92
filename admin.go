package parking

import (
	"context"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/types"
)

// ──────────────────────────────────────────────────
// Space Management
// ──────────────────────────────────────────────────

// ProvisionSpace adds a space to a lot. New spaces start Available.
func (p *Parking) ProvisionSpace(ctx context.Context, sp *space.Space) error {
	if err := requireFields("lot_id", sp.LotID, "class", sp.Class); err != nil {
		return err
	}
	if sp.ID.IsNil() {
		sp.ID = id.NewSpaceID()
	}
	switch sp.State {
	case "":
		sp.State = space.StateAvailable
	case space.StateAvailable:
	default:
		// An Occupied space without a session could never be freed.
		return ValidationError{Field: "state", Message: "new spaces must be available"}
	}
	sp.Entity = types.NewEntityAt(p.now())

	if err := p.store.CreateSpace(ctx, sp); err != nil {
		return wrapID(err, sp.ID.String())
	}

	p.plugins.EmitSpaceProvisioned(ctx, sp)
	return nil
}

// GetSpace retrieves a space by ID.
func (p *Parking) GetSpace(ctx context.Context, spaceID id.SpaceID) (*space.Space, error) {
	sp, err := p.store.GetSpace(ctx, spaceID)
	return sp, wrapID(err, spaceID.String())
}

// ListSpaces lists the spaces of a lot in id order.
func (p *Parking) ListSpaces(ctx context.Context, lotID string, opts space.ListOpts) ([]*space.Space, error) {
	if opts.State != "" && !opts.State.Valid() {
		return nil, ValidationError{Field: "state", Message: "must be available or occupied"}
	}
	return p.store.ListSpaces(ctx, lotID, opts)
}

// RemoveSpace deletes an Available space. Occupied spaces are refused with
// ErrAlreadyOccupied.
func (p *Parking) RemoveSpace(ctx context.Context, spaceID id.SpaceID) error {
	unlock, err := p.locks.Lock(ctx, spaceKey(spaceID))
	if err != nil {
		return err
	}
	defer unlock()

	sp, err := p.store.GetSpace(ctx, spaceID)
	if err != nil {
		return wrapID(err, spaceID.String())
	}
	if !sp.Available() {
		return &Error{Kind: KindAlreadyOccupied, ID: spaceID.String(), Err: ErrAlreadyOccupied}
	}

	if err := p.store.DeleteSpace(ctx, spaceID); err != nil {
		return wrapID(err, spaceID.String())
	}

	p.plugins.EmitSpaceRemoved(ctx, spaceID)
	return nil
}

// Occupancy summarizes a lot.
type Occupancy struct {
	LotID     string                    `json:"lot_id"`
	Total     int                       `json:"total"`
	Occupied  int                       `json:"occupied"`
	Available int                       `json:"available"`
	ByClass   map[string]ClassOccupancy `json:"by_class"`
}

// ClassOccupancy is the per-class breakdown of an Occupancy.
type ClassOccupancy struct {
	Total     int `json:"total"`
	Occupied  int `json:"occupied"`
	Available int `json:"available"`
}

// Occupancy counts the spaces of a lot by state, overall and per class.
func (p *Parking) Occupancy(ctx context.Context, lotID string) (*Occupancy, error) {
	spaces, err := p.store.ListSpaces(ctx, lotID, space.ListOpts{})
	if err != nil {
		return nil, err
	}

	o := &Occupancy{LotID: lotID, ByClass: make(map[string]ClassOccupancy)}
	for _, sp := range spaces {
		c := o.ByClass[sp.Class]
		c.Total++
		o.Total++
		if sp.Available() {
			c.Available++
			o.Available++
		} else {
			c.Occupied++
			o.Occupied++
		}
		o.ByClass[sp.Class] = c
	}
	return o, nil
}

// ──────────────────────────────────────────────────
// Session History
// ──────────────────────────────────────────────────

// History lists sessions, newest entry first.
func (p *Parking) History(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	return p.sessions.History(ctx, opts)
}

// ──────────────────────────────────────────────────
// Rate Plans
// ──────────────────────────────────────────────────

// SetRatePlan creates or replaces the plan for plan.Class.
func (p *Parking) SetRatePlan(ctx context.Context, plan *rateplan.Plan) error {
	if err := requireFields("class", plan.Class); err != nil {
		return err
	}
	if err := validatePlan(plan); err != nil {
		return err
	}
	if plan.ID.IsNil() {
		plan.ID = id.NewRatePlanID()
	}
	plan.Entity = types.NewEntityAt(p.now())

	if err := p.store.UpsertRatePlan(ctx, plan); err != nil {
		return wrapID(err, plan.Class)
	}

	p.plugins.EmitRatePlanChanged(ctx, plan)
	return nil
}

// RatePlan returns the plan for a vehicle class.
func (p *Parking) RatePlan(ctx context.Context, class string) (*rateplan.Plan, error) {
	plan, err := p.rates.RatePlan(ctx, class)
	return plan, wrapID(err, class)
}

// ListRatePlans returns every stored plan ordered by class.
func (p *Parking) ListRatePlans(ctx context.Context) ([]*rateplan.Plan, error) {
	return p.store.ListRatePlans(ctx)
}
