package parking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/keylock"
	"github.com/xraph/parking/space"
)

// Registry is the source of truth for which spaces exist and whether each is
// occupied. It knows nothing about sessions.
//
// Claim and Release hold the space's lock for the duration of the store's
// compare-and-set, so two callers racing for one space are serialized here
// and the store still arbitrates between processes.
type Registry struct {
	spaces space.Store
	locks  keylock.Locker
	logger *slog.Logger
}

// NewRegistry creates a Registry over the given space store.
func NewRegistry(spaces space.Store, locks keylock.Locker, logger *slog.Logger) *Registry {
	if locks == nil {
		locks = keylock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{spaces: spaces, locks: locks, logger: logger}
}

func spaceKey(spaceID id.SpaceID) string { return "space/" + spaceID.String() }

// FindAvailable returns the lowest-id Available space in lotID configured for
// class, skipping any id in exclude.
func (r *Registry) FindAvailable(ctx context.Context, lotID, class string, exclude ...id.SpaceID) (id.SpaceID, error) {
	sp, err := r.spaces.FindAvailable(ctx, lotID, class, exclude)
	if err != nil {
		if errors.Is(err, ErrNoAvailableSpace) || errors.Is(err, ErrSpaceNotFound) || errors.Is(err, ErrNotFound) {
			return id.Nil, &Error{Kind: KindNoAvailableSpace, ID: lotID + "/" + class, Err: ErrNoAvailableSpace}
		}
		return id.Nil, err
	}
	return sp.ID, nil
}

// Claim moves a space from Available to Occupied. Exactly one of any number
// of concurrent claims on the same space succeeds; the others observe
// ErrAlreadyOccupied.
func (r *Registry) Claim(ctx context.Context, spaceID id.SpaceID) error {
	unlock, err := r.locks.Lock(ctx, spaceKey(spaceID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.spaces.Claim(ctx, spaceID); err != nil {
		return wrapID(err, spaceID.String())
	}
	r.logger.Debug("space claimed", "space_id", spaceID)
	return nil
}

// Release moves a space from Occupied back to Available. Releasing a space
// that is already Available fails with ErrNotOccupied and changes nothing.
func (r *Registry) Release(ctx context.Context, spaceID id.SpaceID) error {
	unlock, err := r.locks.Lock(ctx, spaceKey(spaceID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.spaces.Release(ctx, spaceID); err != nil {
		return wrapID(err, spaceID.String())
	}
	r.logger.Debug("space released", "space_id", spaceID)
	return nil
}

// State returns the current occupancy of a space.
func (r *Registry) State(ctx context.Context, spaceID id.SpaceID) (space.State, error) {
	sp, err := r.spaces.Get(ctx, spaceID)
	if err != nil {
		return "", wrapID(err, spaceID.String())
	}
	return sp.State, nil
}
