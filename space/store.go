package space

import (
	"context"

	"github.com/xraph/parking/id"
)

// Store persists spaces. Claim and Release are compare-and-set transitions:
// implementations must apply them atomically per record.
type Store interface {
	Create(ctx context.Context, s *Space) error
	Get(ctx context.Context, spaceID id.SpaceID) (*Space, error)
	List(ctx context.Context, lotID string, opts ListOpts) ([]*Space, error)
	FindAvailable(ctx context.Context, lotID, class string, exclude []id.SpaceID) (*Space, error)
	Claim(ctx context.Context, spaceID id.SpaceID) error
	Release(ctx context.Context, spaceID id.SpaceID) error
	Delete(ctx context.Context, spaceID id.SpaceID) error
}

type ListOpts struct {
	Class  string
	State  State
	Limit  int
	Offset int
}
