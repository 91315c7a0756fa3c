package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/pkg/contextx"
)

func TestFromAuditError(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{&audit.TransitionError{Kind: audit.ErrWrongEntityType}, ErrWrongEntity, http.StatusConflict},
		{&audit.TransitionError{Kind: audit.ErrWrongEntityInstance}, ErrWrongEntity, http.StatusConflict},
		{&audit.TransitionError{Kind: audit.ErrNullSnapshot}, ErrNullSnapshot, http.StatusUnprocessableEntity},
		{&audit.TransitionError{Kind: audit.ErrIncompatibleAttributes, Key: "isbn"}, ErrIncompatible, http.StatusUnprocessableEntity},
		{audit.ErrCannotRevert, ErrNoHistory, http.StatusNotFound},
		{audit.WrapPersistence("append", fmt.Errorf("db down")), ErrAuditPersistence, http.StatusInternalServerError},
		{fmt.Errorf("other"), ErrSystem, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			code, status := FromAuditError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, status, MapStatus(code))
		})
	}
}

func TestAuditError_HidesInternalDetail(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/audits/Book/1/revert", nil)
	r = r.WithContext(contextx.WithTraceID(r.Context(), "trace-1"))
	w := httptest.NewRecorder()

	AuditError(w, r, audit.WrapPersistence("append", fmt.Errorf("password=hunter2")))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, ErrAuditPersistence, env.Error.Code)
	assert.NotContains(t, env.Error.Message, "hunter2")
	assert.Equal(t, "trace-1", env.Meta.TraceID)
}

func TestJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Trace-Id", "from-header")
	w := httptest.NewRecorder()

	JSON(w, r, http.StatusOK, map[string]int{"n": 1})

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "from-header", env.Meta.TraceID)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}
