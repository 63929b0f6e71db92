// Package store defines the unified persistence contract for the parking
// engine. Implementations live in the memory, postgres, sqlite and mongo
// subpackages.
package store

import (
	"context"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
)

// Store is the unified storage interface for all parking entities.
// Methods are declared explicitly rather than by embedding the per-entity
// interfaces, whose method names overlap.
type Store interface {
	// Space methods
	CreateSpace(ctx context.Context, s *space.Space) error
	GetSpace(ctx context.Context, spaceID id.SpaceID) (*space.Space, error)
	ListSpaces(ctx context.Context, lotID string, opts space.ListOpts) ([]*space.Space, error)
	FindAvailableSpace(ctx context.Context, lotID, class string, exclude []id.SpaceID) (*space.Space, error)
	ClaimSpace(ctx context.Context, spaceID id.SpaceID) error
	ReleaseSpace(ctx context.Context, spaceID id.SpaceID) error
	DeleteSpace(ctx context.Context, spaceID id.SpaceID) error

	// Session methods
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error)
	FindOpenSessionByVehicle(ctx context.Context, vehicleID string) (*session.Session, error)
	FindOpenSessionBySpace(ctx context.Context, spaceID id.SpaceID) (*session.Session, error)
	CloseSession(ctx context.Context, sessionID id.SessionID, c session.Closing) error
	ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error)

	// Rate plan methods
	UpsertRatePlan(ctx context.Context, p *rateplan.Plan) error
	GetRatePlan(ctx context.Context, class string) (*rateplan.Plan, error)
	ListRatePlans(ctx context.Context) ([]*rateplan.Plan, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Spaces adapts a Store to space.Store.
func Spaces(s Store) space.Store { return spaceAdapter{s} }

// Sessions adapts a Store to session.Store.
func Sessions(s Store) session.Store { return sessionAdapter{s} }

// RatePlans adapts a Store to rateplan.Store.
func RatePlans(s Store) rateplan.Store { return rateAdapter{s} }

type spaceAdapter struct{ s Store }

func (a spaceAdapter) Create(ctx context.Context, sp *space.Space) error {
	return a.s.CreateSpace(ctx, sp)
}

func (a spaceAdapter) Get(ctx context.Context, spaceID id.SpaceID) (*space.Space, error) {
	return a.s.GetSpace(ctx, spaceID)
}

func (a spaceAdapter) List(ctx context.Context, lotID string, opts space.ListOpts) ([]*space.Space, error) {
	return a.s.ListSpaces(ctx, lotID, opts)
}

func (a spaceAdapter) FindAvailable(ctx context.Context, lotID, class string, exclude []id.SpaceID) (*space.Space, error) {
	return a.s.FindAvailableSpace(ctx, lotID, class, exclude)
}

func (a spaceAdapter) Claim(ctx context.Context, spaceID id.SpaceID) error {
	return a.s.ClaimSpace(ctx, spaceID)
}

func (a spaceAdapter) Release(ctx context.Context, spaceID id.SpaceID) error {
	return a.s.ReleaseSpace(ctx, spaceID)
}

func (a spaceAdapter) Delete(ctx context.Context, spaceID id.SpaceID) error {
	return a.s.DeleteSpace(ctx, spaceID)
}

type sessionAdapter struct{ s Store }

func (a sessionAdapter) Create(ctx context.Context, sess *session.Session) error {
	return a.s.CreateSession(ctx, sess)
}

func (a sessionAdapter) Get(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	return a.s.GetSession(ctx, sessionID)
}

func (a sessionAdapter) FindOpenByVehicle(ctx context.Context, vehicleID string) (*session.Session, error) {
	return a.s.FindOpenSessionByVehicle(ctx, vehicleID)
}

func (a sessionAdapter) FindOpenBySpace(ctx context.Context, spaceID id.SpaceID) (*session.Session, error) {
	return a.s.FindOpenSessionBySpace(ctx, spaceID)
}

func (a sessionAdapter) Close(ctx context.Context, sessionID id.SessionID, c session.Closing) error {
	return a.s.CloseSession(ctx, sessionID, c)
}

func (a sessionAdapter) List(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	return a.s.ListSessions(ctx, opts)
}

type rateAdapter struct{ s Store }

func (a rateAdapter) Upsert(ctx context.Context, p *rateplan.Plan) error {
	return a.s.UpsertRatePlan(ctx, p)
}

func (a rateAdapter) GetByClass(ctx context.Context, class string) (*rateplan.Plan, error) {
	return a.s.GetRatePlan(ctx, class)
}

func (a rateAdapter) List(ctx context.Context) ([]*rateplan.Plan, error) {
	return a.s.ListRatePlans(ctx)
}
