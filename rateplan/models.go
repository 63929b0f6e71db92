// Package rateplan holds per-vehicle-class tariffs.
package rateplan

import (
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/types"
)

// Plan prices a stay for one vehicle class: Base covers the first hour or
// any fraction of it, Hourly is charged for every started hour after that.
type Plan struct {
	types.Entity
	ID     id.RatePlanID `json:"id"`
	Class  string        `json:"class"`
	Base   types.Money   `json:"base"`
	Hourly types.Money   `json:"hourly"`
}
