package rateplan

import "context"

type Store interface {
	// Upsert creates the plan for p.Class or replaces the existing one.
	Upsert(ctx context.Context, p *Plan) error
	GetByClass(ctx context.Context, class string) (*Plan, error)
	List(ctx context.Context) ([]*Plan, error)
}
