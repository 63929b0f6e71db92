package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xraph/parking"
	"github.com/xraph/parking/id"
)

// API serves the parking operations over HTTP.
type API struct {
	engine *parking.Parking
}

// NewAPI returns the handlers for engine.
func NewAPI(engine *parking.Parking) *API {
	return &API{engine: engine}
}

// Register mounts the routes on e. metrics may be nil.
func (a *API) Register(e *echo.Echo, metrics http.Handler) {
	e.GET("/health", a.Health)
	e.POST("/entries", a.Enter)
	e.POST("/exits", a.Exit)
	e.GET("/spaces/:id", a.SpaceState)
	e.GET("/vehicles/:plate/session", a.OpenSession)
	e.GET("/lots/:lot/occupancy", a.Occupancy)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

type enterRequest struct {
	VehicleID string    `json:"vehicle_id"`
	LotID     string    `json:"lot_id"`
	Class     string    `json:"class"`
	EntryTime time.Time `json:"entry_time"`
}

type exitRequest struct {
	// Identifier is a session id or the plate of a parked vehicle.
	Identifier string    `json:"identifier"`
	ExitTime   time.Time `json:"exit_time"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Health reports liveness.
func (a *API) Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Enter handles POST /entries.
func (a *API) Enter(c echo.Context) error {
	var req enterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	entry, err := a.engine.EnterVehicle(c.Request().Context(), req.VehicleID, req.LotID, req.Class, req.EntryTime)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// Exit handles POST /exits.
func (a *API) Exit(c echo.Context) error {
	var req exitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	exit, err := a.engine.ExitVehicle(c.Request().Context(), req.Identifier, req.ExitTime)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, exit)
}

// SpaceState handles GET /spaces/:id.
func (a *API) SpaceState(c echo.Context) error {
	spaceID, err := id.ParseSpaceID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid space id", ID: c.Param("id")})
	}
	state, err := a.engine.QuerySpaceState(c.Request().Context(), spaceID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"space_id": spaceID.String(),
		"state":    string(state),
	})
}

// OpenSession handles GET /vehicles/:plate/session.
func (a *API) OpenSession(c echo.Context) error {
	sessionID, open, err := a.engine.QueryOpenSession(c.Request().Context(), c.Param("plate"))
	if err != nil {
		return writeError(c, err)
	}
	resp := map[string]any{"vehicle_id": c.Param("plate"), "open": open}
	if open {
		resp["session_id"] = sessionID.String()
	}
	return c.JSON(http.StatusOK, resp)
}

// Occupancy handles GET /lots/:lot/occupancy.
func (a *API) Occupancy(c echo.Context) error {
	occ, err := a.engine.Occupancy(c.Request().Context(), c.Param("lot"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, occ)
}

// writeError renders a domain error with the status its kind maps to.
func writeError(c echo.Context, err error) error {
	kind := parking.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: string(kind), ID: parking.IDOf(err)}

	status := http.StatusInternalServerError
	switch kind {
	case parking.KindInvalidInput, parking.KindInvalidTimeRange, parking.KindInvalidDuration:
		status = http.StatusBadRequest
	case parking.KindNotFound, parking.KindSessionNotFound:
		status = http.StatusNotFound
	case parking.KindNoAvailableSpace,
		parking.KindVehicleAlreadyParked,
		parking.KindSpaceAlreadyInSession,
		parking.KindAlreadyClosed,
		parking.KindAlreadyOccupied,
		parking.KindAlreadyExists:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		resp = errorResponse{Error: "internal error"}
	}
	return c.JSON(status, resp)
}
