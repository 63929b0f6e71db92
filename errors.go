package parking

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("parking: not found")
	ErrAlreadyExists = errors.New("parking: already exists")
	ErrInvalidInput  = errors.New("parking: invalid input")

	// Space errors
	ErrSpaceNotFound    = errors.New("parking: space not found")
	ErrNoAvailableSpace = errors.New("parking: no available space")
	ErrAlreadyOccupied  = errors.New("parking: space already occupied")
	ErrNotOccupied      = errors.New("parking: space not occupied (warning)")

	// Session errors
	ErrSessionNotFound       = errors.New("parking: session not found")
	ErrVehicleAlreadyParked  = errors.New("parking: vehicle already parked")
	ErrSpaceAlreadyInSession = errors.New("parking: space already in an open session")
	ErrAlreadyClosed         = errors.New("parking: session already closed")
	ErrInvalidTimeRange      = errors.New("parking: exit time before entry time")

	// Fee errors
	ErrInvalidDuration  = errors.New("parking: invalid duration")
	ErrRatePlanNotFound = errors.New("parking: rate plan not found")
)

// Kind classifies a domain error so callers can render a message without
// matching on sentinels.
type Kind string

// Error kinds.
const (
	KindNoAvailableSpace      Kind = "NoAvailableSpace"
	KindVehicleAlreadyParked  Kind = "VehicleAlreadyParked"
	KindSpaceAlreadyInSession Kind = "SpaceAlreadyInSession"
	KindSessionNotFound       Kind = "SessionNotFound"
	KindAlreadyClosed         Kind = "AlreadyClosed"
	KindInvalidTimeRange      Kind = "InvalidTimeRange"
	KindInvalidDuration       Kind = "InvalidDuration"
	KindNotOccupied           Kind = "NotOccupied"
	KindNotFound              Kind = "NotFound"
	KindAlreadyOccupied       Kind = "AlreadyOccupied"
	KindAlreadyExists         Kind = "AlreadyExists"
	KindInvalidInput          Kind = "InvalidInput"
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrNoAvailableSpace, KindNoAvailableSpace},
	{ErrVehicleAlreadyParked, KindVehicleAlreadyParked},
	{ErrSpaceAlreadyInSession, KindSpaceAlreadyInSession},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrAlreadyClosed, KindAlreadyClosed},
	{ErrInvalidTimeRange, KindInvalidTimeRange},
	{ErrInvalidDuration, KindInvalidDuration},
	{ErrNotOccupied, KindNotOccupied},
	{ErrAlreadyOccupied, KindAlreadyOccupied},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrInvalidInput, KindInvalidInput},
	{ErrSpaceNotFound, KindNotFound},
	{ErrRatePlanNotFound, KindNotFound},
	{ErrNotFound, KindNotFound},
}

// Error is a domain error annotated with the identifier it concerns: a space
// id, session id, vehicle id, lot or vehicle class depending on the kind.
// It unwraps to the matching sentinel, so errors.Is keeps working.
type Error struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.ID)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapID annotates a sentinel-backed error with the offending id. Errors that
// are already annotated, or that are not domain errors, pass through.
func wrapID(err error, offending string) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.err) {
			return &Error{Kind: sk.kind, ID: offending, Err: err}
		}
	}
	return err
}

// KindOf returns the domain kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.err) {
			return sk.kind
		}
	}
	return ""
}

// IDOf returns the identifier attached to a domain error, if any.
func IDOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.ID
	}
	return ""
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("parking: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSpaceNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrRatePlanNotFound)
}

// IsConflict returns true if the error reports a lost race or an occupancy
// conflict rather than bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNoAvailableSpace) ||
		errors.Is(err, ErrAlreadyOccupied) ||
		errors.Is(err, ErrVehicleAlreadyParked) ||
		errors.Is(err, ErrSpaceAlreadyInSession) ||
		errors.Is(err, ErrAlreadyClosed)
}

// IsWarning returns true for conditions that are logged but never fail an
// operation on their own.
func IsWarning(err error) bool {
	return errors.Is(err, ErrNotOccupied)
}
