package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeStepLocked        = "STEP_LOCKED"
	ErrCodeStreamInFlight    = "STREAM_IN_FLIGHT"
	ErrCodeGenerationBlocked = "GENERATION_BLOCKED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeIndexOutOfRange   = "INDEX_OUT_OF_RANGE"
)
