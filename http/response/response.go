package response

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/godamri/helix-audit/pkg/contextx"
)

// Envelope wraps every non-problem API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Meta    Meta   `json:"meta"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	TraceID string `json:"trace_id"`
}

// JSON writes data in a success envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, "application/json", Envelope{
		Success: true,
		Data:    data,
		Meta:    Meta{TraceID: getTraceID(r)},
	})
}

// ErrorJSON writes a failure envelope with the given code.
func ErrorJSON(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, "application/json", Envelope{
		Error: &Error{Code: code, Message: message},
		Meta:  Meta{TraceID: getTraceID(r)},
	})
}

func write(w http.ResponseWriter, status int, contentType string, payload any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	// The client may be gone; nothing useful to do with the error.
	_ = json.NewEncoder(w).Encode(payload)
}

// getTraceID prefers the id the trace middleware stored, then the inbound
// header, and finally mints one so every response is correlatable.
func getTraceID(r *http.Request) string {
	if tid := contextx.GetTraceID(r.Context()); tid != contextx.UnknownTraceID {
		return tid
	}
	if tid := r.Header.Get(contextx.TraceHeader); tid != "" {
		return tid
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
