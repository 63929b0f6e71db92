package parking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/keylock"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/types"
)

// PriceFunc turns the length of a stay into the fee recorded on the session.
type PriceFunc func(d time.Duration) (types.Money, error)

// Sessions is the session ledger: it owns the open/closed lifecycle of every
// stay and enforces at most one open session per space and per vehicle,
// independently of what the registry believes.
//
// Lock order inside the ledger is always space key, then vehicle key.
type Sessions struct {
	sessions session.Store
	locks    keylock.Locker
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessions creates a ledger over the given session store.
func NewSessions(sessions session.Store, locks keylock.Locker, logger *slog.Logger, now func() time.Time) *Sessions {
	if locks == nil {
		locks = keylock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Sessions{sessions: sessions, locks: locks, logger: logger, now: now}
}

func sessionSpaceKey(spaceID id.SpaceID) string { return "session/space/" + spaceID.String() }

func sessionVehicleKey(vehicleID string) string { return "session/vehicle/" + vehicleID }

// Open starts a session for vehicleID on spaceID. It fails with
// ErrVehicleAlreadyParked or ErrSpaceAlreadyInSession when either already has
// an open session.
func (l *Sessions) Open(ctx context.Context, vehicleID string, spaceID id.SpaceID, lotID, class string, entryTime time.Time) (*session.Session, error) {
	if vehicleID == "" {
		return nil, ValidationError{Field: "vehicle_id", Message: "required"}
	}
	if spaceID.IsNil() {
		return nil, ValidationError{Field: "space_id", Message: "required"}
	}

	unlock, err := keylock.LockAll(ctx, l.locks, sessionSpaceKey(spaceID), sessionVehicleKey(vehicleID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch _, err := l.sessions.FindOpenByVehicle(ctx, vehicleID); {
	case err == nil:
		return nil, &Error{Kind: KindVehicleAlreadyParked, ID: vehicleID, Err: ErrVehicleAlreadyParked}
	case !errors.Is(err, ErrSessionNotFound):
		return nil, err
	}

	switch _, err := l.sessions.FindOpenBySpace(ctx, spaceID); {
	case err == nil:
		return nil, &Error{Kind: KindSpaceAlreadyInSession, ID: spaceID.String(), Err: ErrSpaceAlreadyInSession}
	case !errors.Is(err, ErrSessionNotFound):
		return nil, err
	}

	s := &session.Session{
		Entity:    types.NewEntityAt(l.now()),
		ID:        id.NewSessionID(),
		VehicleID: vehicleID,
		SpaceID:   spaceID,
		LotID:     lotID,
		Class:     class,
		EntryTime: entryTime.UTC(),
		Status:    session.StatusOpen,
	}

	if err := l.sessions.Create(ctx, s); err != nil {
		if errors.Is(err, ErrVehicleAlreadyParked) {
			return nil, wrapID(err, vehicleID)
		}
		return nil, wrapID(err, spaceID.String())
	}

	l.logger.Debug("session opened",
		"session_id", s.ID,
		"vehicle_id", vehicleID,
		"space_id", spaceID,
	)
	return s, nil
}

// Close ends an open session at exitTime. The fee from price is written
// together with the exit time and the closed status; a closed session is
// never modified again. It returns the closed session, whose SpaceID is the
// space to release, and the length of the stay.
func (l *Sessions) Close(ctx context.Context, sessionID id.SessionID, exitTime time.Time, price PriceFunc) (*session.Session, time.Duration, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, 0, wrapID(err, sessionID.String())
	}
	if !s.IsOpen() {
		return nil, 0, &Error{Kind: KindAlreadyClosed, ID: sessionID.String(), Err: ErrAlreadyClosed}
	}

	unlock, err := keylock.LockAll(ctx, l.locks, sessionSpaceKey(s.SpaceID), sessionVehicleKey(s.VehicleID))
	if err != nil {
		return nil, 0, err
	}
	defer unlock()

	// Another exit may have completed while we waited for the locks.
	if s, err = l.sessions.Get(ctx, sessionID); err != nil {
		return nil, 0, wrapID(err, sessionID.String())
	}
	if !s.IsOpen() {
		return nil, 0, &Error{Kind: KindAlreadyClosed, ID: sessionID.String(), Err: ErrAlreadyClosed}
	}

	exitTime = exitTime.UTC()
	if exitTime.Before(s.EntryTime) {
		return nil, 0, &Error{Kind: KindInvalidTimeRange, ID: sessionID.String(), Err: ErrInvalidTimeRange}
	}

	d := exitTime.Sub(s.EntryTime)
	var fee types.Money
	if price != nil {
		if fee, err = price(d); err != nil {
			return nil, 0, err
		}
	}

	closing := session.Closing{ExitTime: exitTime, Fee: fee, ClosedAt: l.now().UTC()}
	if err := l.sessions.Close(ctx, sessionID, closing); err != nil {
		return nil, 0, wrapID(err, sessionID.String())
	}

	s.ExitTime = &exitTime
	s.Fee = &fee
	s.Status = session.StatusClosed
	s.Touch(closing.ClosedAt)

	l.logger.Debug("session closed",
		"session_id", s.ID,
		"vehicle_id", s.VehicleID,
		"duration", d,
		"fee", fee.String(),
	)
	return s, d, nil
}

// Get returns a session by id.
func (l *Sessions) Get(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	s, err := l.sessions.Get(ctx, sessionID)
	return s, wrapID(err, sessionID.String())
}

// FindOpenByVehicle returns the vehicle's open session or ErrSessionNotFound.
func (l *Sessions) FindOpenByVehicle(ctx context.Context, vehicleID string) (*session.Session, error) {
	s, err := l.sessions.FindOpenByVehicle(ctx, vehicleID)
	return s, wrapID(err, vehicleID)
}

// FindOpenBySpace returns the space's open session or ErrSessionNotFound.
func (l *Sessions) FindOpenBySpace(ctx context.Context, spaceID id.SpaceID) (*session.Session, error) {
	s, err := l.sessions.FindOpenBySpace(ctx, spaceID)
	return s, wrapID(err, spaceID.String())
}

// History returns sessions matching opts, newest entry first.
func (l *Sessions) History(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	return l.sessions.List(ctx, opts)
}
