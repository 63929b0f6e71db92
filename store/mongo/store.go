package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	parkingstore "github.com/xraph/parking/store"
)

// Collection name constants.
const (
	colSpaces    = "parking_spaces"
	colSessions  = "parking_sessions"
	colRatePlans = "parking_rate_plans"
)

// Index names matched when mapping duplicate key errors.
const (
	idxOpenVehicle = "uq_open_vehicle"
	idxOpenSpace   = "uq_open_space"
	idxPlanClass   = "uq_rate_plan_class"
)

// compile-time interface check
var _ parkingstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all parking collections. The partial unique
// indexes on open sessions back the one-open-session rules.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()
	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("parking/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Space Store ====================

func (s *Store) CreateSpace(ctx context.Context, sp *space.Space) error {
	_, err := s.mdb.NewInsert(toSpaceModel(sp)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return parking.ErrAlreadyExists
		}
		return fmt.Errorf("parking/mongo: create space: %w", err)
	}
	return nil
}

func (s *Store) GetSpace(ctx context.Context, spaceID id.SpaceID) (*space.Space, error) {
	var m spaceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": spaceID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, parking.ErrSpaceNotFound
		}
		return nil, fmt.Errorf("parking/mongo: get space: %w", err)
	}
	return fromSpaceModel(&m)
}

func (s *Store) ListSpaces(ctx context.Context, lotID string, opts space.ListOpts) ([]*space.Space, error) {
	var models []spaceModel

	filter := bson.M{"lot_id": lotID}
	if opts.Class != "" {
		filter["class"] = opts.Class
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("parking/mongo: list spaces: %w", err)
	}

	result := make([]*space.Space, len(models))
	for i := range models {
		sp, err := fromSpaceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sp
	}
	return result, nil
}

func (s *Store) FindAvailableSpace(ctx context.Context, lotID, class string, exclude []id.SpaceID) (*space.Space, error) {
	filter := bson.M{
		"lot_id": lotID,
		"class":  class,
		"state":  string(space.StateAvailable),
	}
	if len(exclude) > 0 {
		filter["_id"] = bson.M{"$nin": idStrings(exclude)}
	}

	var m spaceModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, parking.ErrNoAvailableSpace
		}
		return nil, fmt.Errorf("parking/mongo: find available space: %w", err)
	}
	return fromSpaceModel(&m)
}

func (s *Store) ClaimSpace(ctx context.Context, spaceID id.SpaceID) error {
	return s.transitionSpace(ctx, spaceID, space.StateAvailable, space.StateOccupied, parking.ErrAlreadyOccupied)
}

func (s *Store) ReleaseSpace(ctx context.Context, spaceID id.SpaceID) error {
	return s.transitionSpace(ctx, spaceID, space.StateOccupied, space.StateAvailable, parking.ErrNotOccupied)
}

// transitionSpace updates the state only when the document still holds the
// expected one. A zero match is either a missing space or a lost race.
func (s *Store) transitionSpace(ctx context.Context, spaceID id.SpaceID, from, to space.State, conflict error) error {
	res, err := s.mdb.NewUpdate((*spaceModel)(nil)).
		Filter(bson.M{"_id": spaceID.String(), "state": string(from)}).
		Set("state", string(to)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("parking/mongo: transition space: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetSpace(ctx, spaceID); err != nil {
			return err
		}
		return conflict
	}
	return nil
}

func (s *Store) DeleteSpace(ctx context.Context, spaceID id.SpaceID) error {
	res, err := s.mdb.NewDelete((*spaceModel)(nil)).
		Filter(bson.M{"_id": spaceID.String(), "state": string(space.StateAvailable)}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("parking/mongo: delete space: %w", err)
	}
	if res.DeletedCount() == 0 {
		if _, err := s.GetSpace(ctx, spaceID); err != nil {
			return err
		}
		return parking.ErrAlreadyOccupied
	}
	return nil
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.mdb.NewInsert(toSessionModel(sess)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return sessionConflict(err)
		}
		return fmt.Errorf("parking/mongo: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	var m sessionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": sessionID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, parking.ErrSessionNotFound
		}
		return nil, fmt.Errorf("parking/mongo: get session: %w", err)
	}
	return fromSessionModel(&m)
}

func (s *Store) FindOpenSessionByVehicle(ctx context.Context, vehicleID string) (*session.Session, error) {
	return s.findOpenSession(ctx, bson.M{"vehicle_id": vehicleID})
}

func (s *Store) FindOpenSessionBySpace(ctx context.Context, spaceID id.SpaceID) (*session.Session, error) {
	return s.findOpenSession(ctx, bson.M{"space_id": spaceID.String()})
}

func (s *Store) findOpenSession(ctx context.Context, filter bson.M) (*session.Session, error) {
	filter["status"] = string(session.StatusOpen)

	var m sessionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, parking.ErrSessionNotFound
		}
		return nil, fmt.Errorf("parking/mongo: find open session: %w", err)
	}
	return fromSessionModel(&m)
}

func (s *Store) CloseSession(ctx context.Context, sessionID id.SessionID, c session.Closing) error {
	res, err := s.mdb.NewUpdate((*sessionModel)(nil)).
		Filter(bson.M{"_id": sessionID.String(), "status": string(session.StatusOpen)}).
		Set("status", string(session.StatusClosed)).
		Set("exit_time", c.ExitTime.UTC()).
		Set("fee", moneyModel{Amount: c.Fee.Amount, Currency: c.Fee.Currency}).
		Set("updated_at", c.Stamp()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("parking/mongo: close session: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return parking.ErrAlreadyClosed
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel

	filter := bson.M{}
	if opts.VehicleID != "" {
		filter["vehicle_id"] = opts.VehicleID
	}
	if opts.LotID != "" {
		filter["lot_id"] = opts.LotID
	}
	if !opts.SpaceID.IsNil() {
		filter["space_id"] = opts.SpaceID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.EnteredUntil.IsZero() {
		filter["entry_time"] = bson.M{"$lte": opts.EnteredUntil.UTC()}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "entry_time", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("parking/mongo: list sessions: %w", err)
	}

	result := make([]*session.Session, len(models))
	for i := range models {
		sess, err := fromSessionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sess
	}
	return result, nil
}

// ==================== Rate Plan Store ====================

func (s *Store) UpsertRatePlan(ctx context.Context, p *rateplan.Plan) error {
	m := toRatePlanModel(p)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"class": m.Class}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"base":       m.Base,
				"hourly":     m.Hourly,
				"updated_at": m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"class":      m.Class,
				"created_at": m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("parking/mongo: upsert rate plan: %w", err)
	}

	// An existing document keeps its original id.
	stored, err := s.GetRatePlan(ctx, p.Class)
	if err != nil {
		return err
	}
	p.ID = stored.ID
	p.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetRatePlan(ctx context.Context, class string) (*rateplan.Plan, error) {
	var m ratePlanModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"class": class}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, parking.ErrRatePlanNotFound
		}
		return nil, fmt.Errorf("parking/mongo: get rate plan: %w", err)
	}
	return fromRatePlanModel(&m)
}

func (s *Store) ListRatePlans(ctx context.Context) ([]*rateplan.Plan, error) {
	var models []ratePlanModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "class", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("parking/mongo: list rate plans: %w", err)
	}

	result := make([]*rateplan.Plan, len(models))
	for i := range models {
		p, err := fromRatePlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func idStrings(ids []id.SpaceID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// sessionConflict maps a duplicate key on the open-session indexes to the
// matching domain error. The server names the index in the message.
func sessionConflict(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxOpenVehicle):
		return parking.ErrVehicleAlreadyParked
	case strings.Contains(msg, idxOpenSpace):
		return parking.ErrSpaceAlreadyInSession
	default:
		return parking.ErrAlreadyExists
	}
}

func openOnly() *options.IndexOptionsBuilder {
	return options.Index().
		SetUnique(true).
		SetPartialFilterExpression(bson.M{"status": string(session.StatusOpen)})
}

// migrationIndexes returns the index definitions for all parking collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSpaces: {
			{Keys: bson.D{{Key: "lot_id", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "lot_id", Value: 1}, {Key: "class", Value: 1}, {Key: "state", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colSessions: {
			{
				Keys:    bson.D{{Key: "vehicle_id", Value: 1}},
				Options: openOnly().SetName(idxOpenVehicle),
			},
			{
				Keys:    bson.D{{Key: "space_id", Value: 1}},
				Options: openOnly().SetName(idxOpenSpace),
			},
			{Keys: bson.D{{Key: "vehicle_id", Value: 1}, {Key: "entry_time", Value: -1}}},
			{Keys: bson.D{{Key: "lot_id", Value: 1}, {Key: "entry_time", Value: -1}}},
		},
		colRatePlans: {
			{
				Keys:    bson.D{{Key: "class", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxPlanClass),
			},
		},
	}
}
