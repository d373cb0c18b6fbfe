package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldEventID   = "event_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// Quote fields
	FieldProvider = "provider"
	FieldTier     = "tier"
	FieldRoute    = "route"
	FieldCourier  = "courier"

	// State fields
	FieldOldStage = "old_stage"
	FieldNewStage = "new_stage"

	// SLA fields
	FieldMetric    = "metric"
	FieldThreshold = "threshold"
	FieldObserved  = "observed"
)
