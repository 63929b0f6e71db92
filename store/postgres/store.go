package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("parking/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("parking/postgres: migration failed: %w", err)
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
	_, err := s.pg.NewInsert(toSpaceModel(sp)).Exec(ctx)
	if isUniqueViolation(err) {
		return parking.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSpace(ctx context.Context, spaceID id.SpaceID) (*space.Space, error) {
	m := new(spaceModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", spaceID.String()).
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
	q := s.pg.NewSelect(&models).Where("lot_id = $1", lotID)

	argIdx := 1
	if opts.Class != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("class = $%d", argIdx), opts.Class)
	}
	if opts.State != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("state = $%d", argIdx), string(opts.State))
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
	q := s.pg.NewSelect(m).
		Where("lot_id = $1", lotID).
		Where("class = $2", class).
		Where("state = $3", string(space.StateAvailable))
	if len(exclude) > 0 {
		q = q.Where("id <> ALL($4)", idStrings(exclude))
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
	res, err := s.pg.NewUpdate((*spaceModel)(nil)).
		Set("state = $1", string(to)).
		Set("updated_at = $2", now()).
		Where("id = $3", spaceID.String()).
		Where("state = $4", string(from)).
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
	res, err := s.pg.NewDelete((*spaceModel)(nil)).
		Where("id = $1", spaceID.String()).
		Where("state = $2", string(space.StateAvailable)).
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
	_, err := s.pg.NewInsert(toSessionModel(sess)).Exec(ctx)
	if err != nil {
		return sessionConflict(err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	m := new(sessionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", sessionID.String()).
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
	err := s.pg.NewSelect(m).
		Where(column+" = $1", value).
		Where("status = $2", string(session.StatusOpen)).
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
	res, err := s.pg.NewUpdate((*sessionModel)(nil)).
		Set("status = $1", string(session.StatusClosed)).
		Set("exit_time = $2", c.ExitTime.UTC()).
		Set("fee_amount = $3", c.Fee.Amount).
		Set("fee_currency = $4", c.Fee.Currency).
		Set("updated_at = $5", c.Stamp()).
		Where("id = $6", sessionID.String()).
		Where("status = $7", string(session.StatusOpen)).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.VehicleID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("vehicle_id = $%d", argIdx), opts.VehicleID)
	}
	if opts.LotID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("lot_id = $%d", argIdx), opts.LotID)
	}
	if !opts.SpaceID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("space_id = $%d", argIdx), opts.SpaceID.String())
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.EnteredUntil.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("entry_time <= $%d", argIdx), opts.EnteredUntil.UTC())
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
	_, err := s.pg.NewInsert(toRatePlanModel(p)).
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
	err := s.pg.NewSelect(m).
		Where("class = $1", class).
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
	if err := s.pg.NewSelect(&models).OrderExpr("class ASC").Scan(ctx); err != nil {
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

func idStrings(ids []id.SpaceID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// sessionConflict maps a violation of the open-session indexes to the
// matching domain error.
func sessionConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "open_vehicle"):
		return parking.ErrVehicleAlreadyParked
	case strings.Contains(pgErr.ConstraintName, "open_space"):
		return parking.ErrSpaceAlreadyInSession
	default:
		return parking.ErrAlreadyExists
	}
}
