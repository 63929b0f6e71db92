package audithook

// Action constants for audit events.
const (
	// Space actions
	ActionSpaceProvisioned = "space.provisioned"
	ActionSpaceRemoved     = "space.removed"

	// Session actions
	ActionSessionOpened   = "session.opened"
	ActionSessionClosed   = "session.closed"
	ActionSessionOverstay = "session.overstay"
	ActionEntryRejected   = "entry.rejected"

	// Consistency actions
	ActionCompensated   = "space.compensated"
	ActionReleaseDesync = "space.release_desync"

	// Rate plan actions
	ActionRatePlanChanged = "rateplan.changed"
)

// Resource constants for audit events.
const (
	ResourceSpace    = "space"
	ResourceSession  = "session"
	ResourceVehicle  = "vehicle"
	ResourceRatePlan = "rateplan"
)

// Category constants for audit events.
const (
	CategoryInventory   = "inventory"
	CategoryAccess      = "access"
	CategoryBilling     = "billing"
	CategoryConsistency = "consistency"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
