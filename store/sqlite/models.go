package sqlite

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/types"
)

// ==================== Space models ====================

type spaceModel struct {
	grove.BaseModel `grove:"table:parking_spaces"`

	ID        string    `grove:"id,pk"`
	LotID     string    `grove:"lot_id"`
	Label     string    `grove:"label"`
	Class     string    `grove:"class"`
	State     string    `grove:"state"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toSpaceModel(s *space.Space) *spaceModel {
	return &spaceModel{
		ID:        s.ID.String(),
		LotID:     s.LotID,
		Label:     s.Label,
		Class:     s.Class,
		State:     string(s.State),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func fromSpaceModel(m *spaceModel) (*space.Space, error) {
	spaceID, err := id.ParseSpaceID(m.ID)
	if err != nil {
		return nil, err
	}
	return &space.Space{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:    spaceID,
		LotID: m.LotID,
		Label: m.Label,
		Class: m.Class,
		State: space.State(m.State),
	}, nil
}

// ==================== Session models ====================

type sessionModel struct {
	grove.BaseModel `grove:"table:parking_sessions"`

	ID          string     `grove:"id,pk"`
	VehicleID   string     `grove:"vehicle_id"`
	SpaceID     string     `grove:"space_id"`
	LotID       string     `grove:"lot_id"`
	Class       string     `grove:"class"`
	EntryTime   time.Time  `grove:"entry_time"`
	ExitTime    *time.Time `grove:"exit_time"`
	Status      string     `grove:"status"`
	FeeAmount   *int64     `grove:"fee_amount"`
	FeeCurrency string     `grove:"fee_currency"`
	CreatedAt   time.Time  `grove:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"`
}

func toSessionModel(s *session.Session) *sessionModel {
	m := &sessionModel{
		ID:        s.ID.String(),
		VehicleID: s.VehicleID,
		SpaceID:   s.SpaceID.String(),
		LotID:     s.LotID,
		Class:     s.Class,
		EntryTime: s.EntryTime,
		ExitTime:  s.ExitTime,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Fee != nil {
		amount := s.Fee.Amount
		m.FeeAmount = &amount
		m.FeeCurrency = s.Fee.Currency
	}
	return m
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	sessionID, err := id.ParseSessionID(m.ID)
	if err != nil {
		return nil, err
	}
	spaceID, err := id.ParseSpaceID(m.SpaceID)
	if err != nil {
		return nil, err
	}

	s := &session.Session{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        sessionID,
		VehicleID: m.VehicleID,
		SpaceID:   spaceID,
		LotID:     m.LotID,
		Class:     m.Class,
		EntryTime: m.EntryTime.UTC(),
		Status:    session.Status(m.Status),
	}
	if m.ExitTime != nil {
		t := m.ExitTime.UTC()
		s.ExitTime = &t
	}
	if m.FeeAmount != nil {
		fee := types.Money{Amount: *m.FeeAmount, Currency: m.FeeCurrency}
		s.Fee = &fee
	}
	return s, nil
}

// ==================== Rate plan models ====================

type ratePlanModel struct {
	grove.BaseModel `grove:"table:parking_rate_plans"`

	ID           string    `grove:"id,pk"`
	Class        string    `grove:"class"`
	Currency     string    `grove:"currency"`
	BaseAmount   int64     `grove:"base_amount"`
	HourlyAmount int64     `grove:"hourly_amount"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toRatePlanModel(p *rateplan.Plan) *ratePlanModel {
	return &ratePlanModel{
		ID:           p.ID.String(),
		Class:        p.Class,
		Currency:     p.Base.Currency,
		BaseAmount:   p.Base.Amount,
		HourlyAmount: p.Hourly.Amount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func fromRatePlanModel(m *ratePlanModel) (*rateplan.Plan, error) {
	planID, err := id.ParseRatePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	return &rateplan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:     planID,
		Class:  m.Class,
		Base:   types.Money{Amount: m.BaseAmount, Currency: m.Currency},
		Hourly: types.Money{Amount: m.HourlyAmount, Currency: m.Currency},
	}, nil
}
