package mongo

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

	ID        string    `grove:"id,pk"      bson:"_id"`
	LotID     string    `grove:"lot_id"     bson:"lot_id"`
	Label     string    `grove:"label"      bson:"label"`
	Class     string    `grove:"class"      bson:"class"`
	State     string    `grove:"state"      bson:"state"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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

	ID        string      `grove:"id,pk"      bson:"_id"`
	VehicleID string      `grove:"vehicle_id" bson:"vehicle_id"`
	SpaceID   string      `grove:"space_id"   bson:"space_id"`
	LotID     string      `grove:"lot_id"     bson:"lot_id"`
	Class     string      `grove:"class"      bson:"class"`
	EntryTime time.Time   `grove:"entry_time" bson:"entry_time"`
	ExitTime  *time.Time  `grove:"exit_time"  bson:"exit_time,omitempty"`
	Status    string      `grove:"status"     bson:"status"`
	Fee       *moneyModel `grove:"fee"        bson:"fee,omitempty"`
	CreatedAt time.Time   `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time   `grove:"updated_at" bson:"updated_at"`
}

type moneyModel struct {
	Amount   int64  `bson:"amount"`
	Currency string `bson:"currency"`
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
		m.Fee = &moneyModel{Amount: s.Fee.Amount, Currency: s.Fee.Currency}
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
	if m.Fee != nil {
		s.Fee = &types.Money{Amount: m.Fee.Amount, Currency: m.Fee.Currency}
	}
	return s, nil
}

// ==================== Rate plan models ====================

type ratePlanModel struct {
	grove.BaseModel `grove:"table:parking_rate_plans"`

	ID        string     `grove:"id,pk"      bson:"_id"`
	Class     string     `grove:"class"      bson:"class"`
	Base      moneyModel `grove:"base"       bson:"base"`
	Hourly    moneyModel `grove:"hourly"     bson:"hourly"`
	CreatedAt time.Time  `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `grove:"updated_at" bson:"updated_at"`
}

func toRatePlanModel(p *rateplan.Plan) *ratePlanModel {
	return &ratePlanModel{
		ID:        p.ID.String(),
		Class:     p.Class,
		Base:      moneyModel{Amount: p.Base.Amount, Currency: p.Base.Currency},
		Hourly:    moneyModel{Amount: p.Hourly.Amount, Currency: p.Hourly.Currency},
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
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
		Base:   types.Money{Amount: m.Base.Amount, Currency: m.Base.Currency},
		Hourly: types.Money{Amount: m.Hourly.Amount, Currency: m.Hourly.Currency},
	}, nil
}
