package session

import (
	"context"
	"time"

	"github.com/xraph/parking/id"
)

// Store persists sessions. Create must reject a second open session for the
// same vehicle or space, and Close must only succeed on an open session.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID id.SessionID) (*Session, error)
	FindOpenByVehicle(ctx context.Context, vehicleID string) (*Session, error)
	FindOpenBySpace(ctx context.Context, spaceID id.SpaceID) (*Session, error)
	Close(ctx context.Context, sessionID id.SessionID, c Closing) error
	List(ctx context.Context, opts ListOpts) ([]*Session, error)
}

// ListOpts filters session listings. Results are ordered by entry time,
// newest first.
type ListOpts struct {
	VehicleID    string
	LotID        string
	SpaceID      id.SpaceID
	Status       Status
	EnteredUntil time.Time
	Limit        int
	Offset       int
}
