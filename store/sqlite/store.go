package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	parkingstore "github.com/xraph/parking/store"
)

// compile-time interface check
var _ parkingstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("parking/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("parking/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(toSpaceModel(sp)).Exec(ctx)
	if isUniqueViolation(err) {
		return parking.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSpace(ctx context.Context, spaceID id.SpaceID) (*space.Space, error) {
	m := new(spaceModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", spaceID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, parking.ErrSpaceNotFound
		}
		return nil, err
	}
	return fromSpaceModel(m)
}

func (s *Store) ListSpaces(ctx context.Context, lotID string, opts space.ListOpts) ([]*space.Space, error) {
	var models []spaceModel
	q := s.sdb.NewSelect(&models).Where("lot_id = ?", lotID)

	if opts.Class != "" {
		q = q.Where("class = ?", opts.Class)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	m := new(spaceModel)
	q := s.sdb.NewSelect(m).
		Where("lot_id = ?", lotID).
		Where("class = ?", class).
		Where("state = ?", string(space.StateAvailable))
	if len(exclude) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(exclude)), ", ")
		q = q.Where("id NOT IN ("+placeholders+")", idArgs(exclude)...)
	}

	err := q.OrderExpr("id ASC").Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, parking.ErrNoAvailableSpace
		}
		return nil, err
	}
	return fromSpaceModel(m)
}

func (s *Store) ClaimSpace(ctx context.Context, spaceID id.SpaceID) error {
	return s.transitionSpace(ctx, spaceID, space.StateAvailable, space.StateOccupied, parking.ErrAlreadyOccupied)
}

func (s *Store) ReleaseSpace(ctx context.Context, spaceID id.SpaceID) error {
	return s.transitionSpace(ctx, spaceID, space.StateOccupied, space.StateAvailable, parking.ErrNotOccupied)
}

// transitionSpace is a compare-and-set on the space state. When nothing
// matched, it tells a missing space apart from one in the wrong state.
func (s *Store) transitionSpace(ctx context.Context, spaceID id.SpaceID, from, to space.State, conflict error) error {
	res, err := s.sdb.NewUpdate((*spaceModel)(nil)).
		Set("state = ?", string(to)).
		Set("updated_at = ?", now()).
		Where("id = ?", spaceID.String()).
		Where("state = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSpace(ctx, spaceID); err != nil {
			return err
		}
		return conflict
	}
	return nil
}

func (s *Store) DeleteSpace(ctx context.Context, spaceID id.SpaceID) error {
	res, err := s.sdb.NewDelete((*spaceModel)(nil)).
		Where("id = ?", spaceID.String()).
		Where("state = ?", string(space.StateAvailable)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSpace(ctx, spaceID); err != nil {
			return err
		}
		return parking.ErrAlreadyOccupied
	}
	return nil
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.sdb.NewInsert(toSessionModel(sess)).Exec(ctx)
	if err != nil {
		return sessionConflict(err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	m := new(sessionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", sessionID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, parking.ErrSessionNotFound
		}
		return nil, err
	}
	return fromSessionModel(m)
}

func (s *Store) FindOpenSessionByVehicle(ctx context.Context, vehicleID string) (*session.Session, error) {
	return s.findOpenSession(ctx, "vehicle_id", vehicleID)
}

func (s *Store) FindOpenSessionBySpace(ctx context.Context, spaceID id.SpaceID) (*session.Session, error) {
	return s.findOpenSession(ctx, "space_id", spaceID.String())
}

func (s *Store) findOpenSession(ctx context.Context, column, value string) (*session.Session, error) {
	m := new(sessionModel)
	err := s.sdb.NewSelect(m).
		Where(column+" = ?", value).
		Where("status = ?", string(session.StatusOpen)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, parking.ErrSessionNotFound
		}
		return nil, err
	}
	return fromSessionModel(m)
}

func (s *Store) CloseSession(ctx context.Context, sessionID id.SessionID, c session.Closing) error {
	res, err := s.sdb.NewUpdate((*sessionModel)(nil)).
		Set("status = ?", string(session.StatusClosed)).
		Set("exit_time = ?", c.ExitTime.UTC()).
		Set("fee_amount = ?", c.Fee.Amount).
		Set("fee_currency = ?", c.Fee.Currency).
		Set("updated_at = ?", c.Stamp()).
		Where("id = ?", sessionID.String()).
		Where("status = ?", string(session.StatusOpen)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return parking.ErrAlreadyClosed
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel
	q := s.sdb.NewSelect(&models)

	if opts.VehicleID != "" {
		q = q.Where("vehicle_id = ?", opts.VehicleID)
	}
	if opts.LotID != "" {
		q = q.Where("lot_id = ?", opts.LotID)
	}
	if !opts.SpaceID.IsNil() {
		q = q.Where("space_id = ?", opts.SpaceID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.EnteredUntil.IsZero() {
		q = q.Where("entry_time <= ?", opts.EnteredUntil.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("entry_time DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	_, err := s.sdb.NewInsert(toRatePlanModel(p)).
		OnConflict("(class) DO UPDATE").
		Set("currency = EXCLUDED.currency").
		Set("base_amount = EXCLUDED.base_amount").
		Set("hourly_amount = EXCLUDED.hourly_amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return err
	}

	// The row keeps its original id on conflict.
	stored, err := s.GetRatePlan(ctx, p.Class)
	if err != nil {
		return err
	}
	p.ID = stored.ID
	p.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetRatePlan(ctx context.Context, class string) (*rateplan.Plan, error) {
	m := new(ratePlanModel)
	err := s.sdb.NewSelect(m).
		Where("class = ?", class).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, parking.ErrRatePlanNotFound
		}
		return nil, err
	}
	return fromRatePlanModel(m)
}

func (s *Store) ListRatePlans(ctx context.Context) ([]*rateplan.Plan, error) {
	var models []ratePlanModel
	if err := s.sdb.NewSelect(&models).OrderExpr("class ASC").Scan(ctx); err != nil {
		return nil, err
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

func idArgs(ids []id.SpaceID) []any {
	out := make([]any, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a UNIQUE constraint failure. The sqlite driver
// only exposes it through the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// sessionConflict maps a violation of the open-session indexes to the
// matching domain error.
func sessionConflict(err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "parking_sessions.vehicle_id"):
		return parking.ErrVehicleAlreadyParked
	case strings.Contains(msg, "parking_sessions.space_id"):
		return parking.ErrSpaceAlreadyInSession
	default:
		return parking.ErrAlreadyExists
	}
}
