package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Problem is an RFC 7807 problem document. The API uses it for request
// validation failures, where field-level detail matters to the caller.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	TraceID string       `json:"trace_id,omitempty"`
	Code    string       `json:"code,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (p *Problem) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// ErrorProblem sends an RFC 7807 response.
func ErrorProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, fields []FieldError) {
	prob := &Problem{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  getTraceID(r),
		Code:     code,
		Errors:   fields,
	}
	prob.Render(w)
}

// ValidationProblem renders a validator error as a 400 problem listing the
// offending fields by their JSON names.
func ValidationProblem(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		ErrorProblem(w, r, http.StatusBadRequest, ErrValidation, err.Error(), nil)
		return
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Field
	}
	ErrorProblem(w, r, http.StatusBadRequest, ErrValidation, "invalid fields: "+strings.Join(names, ", "), fields)
}
