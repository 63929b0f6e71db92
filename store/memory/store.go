// Package memory provides an in-memory store.Store for tests and single-node
// development. Records are copied on the way in and out, so callers never
// share state with the store.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Space storage
	spaces map[string]*space.Space

	// Session storage with open-session indexes
	sessions      map[string]*session.Session
	openByVehicle map[string]string
	openBySpace   map[string]string

	// Rate plans keyed by class
	ratePlans map[string]*rateplan.Plan

	now func() time.Time
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock sets the clock used to stamp space state transitions. Pass the
// same clock as parking.WithClock to keep record timestamps consistent.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		spaces:        make(map[string]*space.Space),
		sessions:      make(map[string]*session.Session),
		openByVehicle: make(map[string]string),
		openBySpace:   make(map[string]string),
		ratePlans:     make(map[string]*rateplan.Plan),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Space Store implementation
func (s *Store) CreateSpace(_ context.Context, sp *space.Space) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.spaces[sp.ID.String()]; exists {
		return parking.ErrAlreadyExists
	}
	c := *sp
	s.spaces[sp.ID.String()] = &c
	return nil
}

func (s *Store) GetSpace(_ context.Context, spaceID id.SpaceID) (*space.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sp, ok := s.spaces[spaceID.String()]; ok {
		c := *sp
		return &c, nil
	}
	return nil, parking.ErrSpaceNotFound
}

func (s *Store) ListSpaces(_ context.Context, lotID string, opts space.ListOpts) ([]*space.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*space.Space, 0)
	for _, sp := range s.spaces {
		if sp.LotID != lotID {
			continue
		}
		if opts.Class != "" && sp.Class != opts.Class {
			continue
		}
		if opts.State != "" && sp.State != opts.State {
			continue
		}
		c := *sp
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *space.Space) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) FindAvailableSpace(_ context.Context, lotID, class string, exclude []id.SpaceID) (*space.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *space.Space
	for _, sp := range s.spaces {
		if sp.LotID != lotID || sp.Class != class || !sp.Available() {
			continue
		}
		if slices.Contains(exclude, sp.ID) {
			continue
		}
		if best == nil || sp.ID.Less(best.ID) {
			best = sp
		}
	}
	if best == nil {
		return nil, parking.ErrNoAvailableSpace
	}
	c := *best
	return &c, nil
}

func (s *Store) ClaimSpace(_ context.Context, spaceID id.SpaceID) error {
	return s.transition(spaceID, space.StateAvailable, space.StateOccupied, parking.ErrAlreadyOccupied)
}

func (s *Store) ReleaseSpace(_ context.Context, spaceID id.SpaceID) error {
	return s.transition(spaceID, space.StateOccupied, space.StateAvailable, parking.ErrNotOccupied)
}

// transition moves a space from one state to another, failing with conflict
// when the space is not in the expected state.
func (s *Store) transition(spaceID id.SpaceID, from, to space.State, conflict error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[spaceID.String()]
	if !ok {
		return parking.ErrSpaceNotFound
	}
	if sp.State != from {
		return conflict
	}
	sp.State = to
	sp.Touch(s.now().UTC())
	return nil
}

func (s *Store) DeleteSpace(_ context.Context, spaceID id.SpaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[spaceID.String()]
	if !ok {
		return parking.ErrSpaceNotFound
	}
	if !sp.Available() {
		return parking.ErrAlreadyOccupied
	}
	delete(s.spaces, spaceID.String())
	return nil
}

// Session Store implementation
func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sess.ID.String()
	if _, exists := s.sessions[key]; exists {
		return parking.ErrAlreadyExists
	}
	if sess.IsOpen() {
		if _, parked := s.openByVehicle[sess.VehicleID]; parked {
			return parking.ErrVehicleAlreadyParked
		}
		if _, busy := s.openBySpace[sess.SpaceID.String()]; busy {
			return parking.ErrSpaceAlreadyInSession
		}
		s.openByVehicle[sess.VehicleID] = key
		s.openBySpace[sess.SpaceID.String()] = key
	}

	s.sessions[key] = copySession(sess)
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID id.SessionID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sessionID.String()]; ok {
		return copySession(sess), nil
	}
	return nil, parking.ErrSessionNotFound
}

func (s *Store) FindOpenSessionByVehicle(_ context.Context, vehicleID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.openByVehicle[vehicleID]; ok {
		return copySession(s.sessions[key]), nil
	}
	return nil, parking.ErrSessionNotFound
}

func (s *Store) FindOpenSessionBySpace(_ context.Context, spaceID id.SpaceID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.openBySpace[spaceID.String()]; ok {
		return copySession(s.sessions[key]), nil
	}
	return nil, parking.ErrSessionNotFound
}

func (s *Store) CloseSession(_ context.Context, sessionID id.SessionID, c session.Closing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID.String()]
	if !ok {
		return parking.ErrSessionNotFound
	}
	if !sess.IsOpen() {
		return parking.ErrAlreadyClosed
	}

	exit := c.ExitTime
	fee := c.Fee
	sess.ExitTime = &exit
	sess.Fee = &fee
	sess.Status = session.StatusClosed
	sess.Touch(c.Stamp())

	delete(s.openByVehicle, sess.VehicleID)
	delete(s.openBySpace, sess.SpaceID.String())
	return nil
}

func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0)
	for _, sess := range s.sessions {
		if opts.VehicleID != "" && sess.VehicleID != opts.VehicleID {
			continue
		}
		if opts.LotID != "" && sess.LotID != opts.LotID {
			continue
		}
		if !opts.SpaceID.IsNil() && sess.SpaceID != opts.SpaceID {
			continue
		}
		if opts.Status != "" && sess.Status != opts.Status {
			continue
		}
		if !opts.EnteredUntil.IsZero() && sess.EntryTime.After(opts.EnteredUntil) {
			continue
		}
		result = append(result, copySession(sess))
	}

	slices.SortFunc(result, func(a, b *session.Session) int {
		if c := b.EntryTime.Compare(a.EntryTime); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})

	return page(result, opts.Offset, opts.Limit), nil
}

// Rate plan Store implementation
func (s *Store) UpsertRatePlan(_ context.Context, p *rateplan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *p
	if existing, ok := s.ratePlans[p.Class]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	s.ratePlans[p.Class] = &c
	return nil
}

func (s *Store) GetRatePlan(_ context.Context, class string) (*rateplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.ratePlans[class]; ok {
		c := *p
		return &c, nil
	}
	return nil, parking.ErrRatePlanNotFound
}

func (s *Store) ListRatePlans(_ context.Context) ([]*rateplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*rateplan.Plan, 0, len(s.ratePlans))
	for _, p := range s.ratePlans {
		c := *p
		result = append(result, &c)
	}
	slices.SortFunc(result, func(a, b *rateplan.Plan) int {
		return strings.Compare(a.Class, b.Class)
	})
	return result, nil
}

// Core methods
func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copySession(sess *session.Session) *session.Session {
	c := *sess
	if sess.ExitTime != nil {
		t := *sess.ExitTime
		c.ExitTime = &t
	}
	if sess.Fee != nil {
		f := *sess.Fee
		c.Fee = &f
	}
	return &c
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
