package audithook

// Action constants for audit events.
const (
	// Stream lifecycle actions
	ActionStreamCreated   = "stream.created"
	ActionStreamActivated = "stream.activated"
	ActionStreamPaused    = "stream.paused"
	ActionStreamResumed   = "stream.resumed"
	ActionStreamCancelled = "stream.cancelled"
	ActionStreamCompleted = "stream.completed"

	// Settlement actions
	ActionStreamClaimed    = "stream.claimed"
	ActionSettlementFailed = "settlement.failed"
)

// Resource constants for audit events.
const (
	ResourceStream   = "stream"
	ResourceTransfer = "transfer"
)

// Category constants for audit events.
const (
	CategoryStream  = "stream"
	CategoryPayment = "payment"
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
