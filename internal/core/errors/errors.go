package errors

const (
	HttpInternalError        = "internal_error"
	HttpInvalidJsonError     = "invalid_json"
	HttpValidationError      = "validation_failed"
	HttpDuplicateEventError  = "duplicate_event"
	HttpStaleEventError      = "stale_event"
	HttpDependencyError      = "dependency_failure"
	HttpAccountNotFoundError = "account_not_found"
)

// Reason tags attached to dead-lettered events.
const (
	ReasonInvalidMessage   = "invalid_message"
	ReasonOldTransaction   = "old_transaction"
	ReasonInvalidEventType = "invalid_event_type"
)

// ErrorResponse is the error body returned by every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
