package response

import "net/http"

// Error codes carried in the envelope. The prefix names the layer that
// rejected the request.
const (
	ErrSystem         = "SYS_INTERNAL_ERROR"
	ErrServiceUnavail = "SYS_SERVICE_UNAVAILABLE"
	ErrGatewayTimeout = "SYS_GATEWAY_TIMEOUT"

	ErrValidation    = "VAL_INVALID_INPUT"
	ErrMissingField  = "VAL_MISSING_FIELD"
	ErrInvalidFormat = "VAL_INVALID_FORMAT"

	ErrInvalidToken = "AUTH_INVALID_TOKEN"

	ErrNotFound        = "RES_NOT_FOUND"
	ErrAlreadyExists   = "RES_ALREADY_EXISTS"
	ErrVersionMismatch = "RES_VERSION_MISMATCH"

	ErrRateLimit   = "BIZ_RATE_LIMIT_EXCEEDED"
	ErrIdempotency = "BIZ_IDEMPOTENCY_CONFLICT"

	ErrWrongEntity      = "AUD_WRONG_ENTITY"
	ErrNullSnapshot     = "AUD_NULL_SNAPSHOT"
	ErrIncompatible     = "AUD_INCOMPATIBLE_ATTRIBUTES"
	ErrNoHistory        = "AUD_NO_HISTORY"
	ErrAuditPersistence = "AUD_PERSISTENCE_FAILED"
)

var statusByCode = map[string]int{
	ErrValidation:    http.StatusBadRequest,
	ErrMissingField:  http.StatusBadRequest,
	ErrInvalidFormat: http.StatusBadRequest,

	ErrInvalidToken: http.StatusUnauthorized,

	ErrNotFound:  http.StatusNotFound,
	ErrNoHistory: http.StatusNotFound,

	ErrAlreadyExists:   http.StatusConflict,
	ErrVersionMismatch: http.StatusConflict,
	ErrIdempotency:     http.StatusConflict,
	ErrWrongEntity:     http.StatusConflict,

	ErrNullSnapshot: http.StatusUnprocessableEntity,
	ErrIncompatible: http.StatusUnprocessableEntity,

	ErrRateLimit: http.StatusTooManyRequests,

	ErrServiceUnavail: http.StatusServiceUnavailable,
	ErrGatewayTimeout: http.StatusServiceUnavailable,
}

// MapStatus returns the HTTP status for a code. Unknown codes are 500.
func MapStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
