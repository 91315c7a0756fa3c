package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/godamri/helix-audit/http/response"
)

// Error is a driver failure tagged with the response code it maps to.
type Error struct {
	Code string
	// Retryable is set for failures a caller may simply try again.
	Retryable bool
	Err       error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

var pgCodes = map[string]Error{
	"23505": {Code: response.ErrAlreadyExists},                    // unique_violation
	"23502": {Code: response.ErrMissingField},                     // not_null_violation
	"23514": {Code: response.ErrValidation},                       // check_violation
	"22P02": {Code: response.ErrInvalidFormat},                    // invalid_text_representation
	"40001": {Code: response.ErrVersionMismatch, Retryable: true}, // serialization_failure
	"40P01": {Code: response.ErrVersionMismatch, Retryable: true}, // deadlock_detected
	"57014": {Code: response.ErrGatewayTimeout, Retryable: true},  // query_canceled
	"53300": {Code: response.ErrServiceUnavail, Retryable: true},  // too_many_connections
}

// Classify wraps err in an *Error. The driver error stays reachable through
// errors.Is and errors.As.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	if IsNoRows(err) {
		return &Error{Code: response.ErrNotFound, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if tmpl, ok := pgCodes[pgErr.Code]; ok {
			tmpl.Err = err
			return &tmpl
		}
	}
	return &Error{Code: response.ErrSystem, Err: err}
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
