// Package space holds the parking space model and its store contract.
package space

import (
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/types"
)

type State string

const (
	StateAvailable State = "available"
	StateOccupied  State = "occupied"
)

// Valid reports whether s is a known occupancy state.
func (s State) Valid() bool {
	return s == StateAvailable || s == StateOccupied
}

type Space struct {
	types.Entity
	ID    id.SpaceID `json:"id"`
	LotID string     `json:"lot_id"`
	Label string     `json:"label,omitempty"`
	Class string     `json:"class"`
	State State      `json:"state"`
}

// Available reports whether the space can be claimed.
func (s *Space) Available() bool { return s.State == StateAvailable }
