package response

import (
	"errors"
	"net/http"

	"github.com/godamri/helix-audit/audit"
)

// FromAuditError maps an audit failure to a response code and HTTP status.
func FromAuditError(err error) (code string, status int) {
	switch {
	case errors.Is(err, audit.ErrWrongEntityType), errors.Is(err, audit.ErrWrongEntityInstance):
		code = ErrWrongEntity
	case errors.Is(err, audit.ErrNullSnapshot):
		code = ErrNullSnapshot
	case errors.Is(err, audit.ErrIncompatibleAttributes):
		code = ErrIncompatible
	case errors.Is(err, audit.ErrCannotRevert):
		code = ErrNoHistory
	case errors.Is(err, audit.ErrPersistence):
		code = ErrAuditPersistence
	default:
		code = ErrSystem
	}
	return code, MapStatus(code)
}

// AuditError writes err as an error envelope. Persistence and unknown
// failures hide their detail from the client.
func AuditError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := FromAuditError(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	ErrorJSON(w, r, status, code, msg)
}
