package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-audit/http/response"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"no rows", sql.ErrNoRows, response.ErrNotFound, false},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), response.ErrNotFound, false},
		{"unique", &pgconn.PgError{Code: "23505"}, response.ErrAlreadyExists, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, response.ErrVersionMismatch, true},
		{"canceled", &pgconn.PgError{Code: "57014"}, response.ErrGatewayTimeout, true},
		{"unmapped pg code", &pgconn.PgError{Code: "42P01"}, response.ErrSystem, false},
		{"plain", errors.New("conn reset"), response.ErrSystem, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.err)
			var dbErr *Error
			require.ErrorAs(t, err, &dbErr)
			assert.Equal(t, tt.code, dbErr.Code)
			assert.Equal(t, tt.retryable, dbErr.Retryable)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, Classify(nil))

	once := Classify(sql.ErrNoRows)
	assert.Same(t, once, Classify(once))
}
