// Package session holds the parking session model and its store contract.
package session

import (
	"time"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/types"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

type Session struct {
	types.Entity
	ID        id.SessionID `json:"id"`
	VehicleID string       `json:"vehicle_id"`
	SpaceID   id.SpaceID   `json:"space_id"`
	LotID     string       `json:"lot_id"`
	Class     string       `json:"class"`
	EntryTime time.Time    `json:"entry_time"`
	ExitTime  *time.Time   `json:"exit_time,omitempty"`
	Status    Status       `json:"status"`
	Fee       *types.Money `json:"fee,omitempty"`
}

// IsOpen reports whether the session still holds its space.
func (s *Session) IsOpen() bool { return s.Status == StatusOpen }

// Duration returns the elapsed stay. Open sessions are measured up to now.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.ExitTime != nil {
		return s.ExitTime.Sub(s.EntryTime)
	}
	return now.Sub(s.EntryTime)
}

// Closing carries the terminal fields written when a session closes.
// ClosedAt stamps the record's UpdatedAt.
type Closing struct {
	ExitTime time.Time
	Fee      types.Money
	ClosedAt time.Time
}

// Stamp returns ClosedAt in UTC, or the current time when it is unset.
func (c Closing) Stamp() time.Time {
	if c.ClosedAt.IsZero() {
		return time.Now().UTC()
	}
	return c.ClosedAt.UTC()
}
