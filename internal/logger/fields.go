package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the queue job ID
	FieldJobID = "job_id"

	// FieldSubscription is the subscription ID
	FieldSubscription = "subscription_id"

	// FieldItem is the remote item ID
	FieldItem = "item_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldChannel is the queue admission channel
	FieldChannel = "channel"
)

// ============================================
// Standard Metric Fields (Entry level)
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
