package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestRunner(buf *bytes.Buffer) (*Runner, *int) {
	code := -1
	r := NewRunner(slog.New(slog.NewTextHandler(buf, nil)))
	r.exit = func(c int) { code = c }
	return r, &code
}

func TestRunner_GracefulShutdown(t *testing.T) {
	var buf bytes.Buffer
	r, code := newTestRunner(&buf)
	ctx, cancel := context.WithCancel(context.Background())

	stopped := false
	r.run(ctx, func(context.Context) (func(context.Context) error, error) {
		cancel()
		return func(context.Context) error {
			stopped = true
			return nil
		}, nil
	})

	assert.True(t, stopped)
	assert.Equal(t, -1, *code)
	assert.Contains(t, buf.String(), "shutdown complete")
}

func TestRunner_StartupFailure(t *testing.T) {
	var buf bytes.Buffer
	r, code := newTestRunner(&buf)

	r.run(context.Background(), func(context.Context) (func(context.Context) error, error) {
		return nil, errors.New("no database")
	})

	assert.Equal(t, 1, *code)
	assert.Contains(t, buf.String(), "no database")
}

func TestRunner_ShutdownFailure(t *testing.T) {
	var buf bytes.Buffer
	r, code := newTestRunner(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.run(ctx, func(context.Context) (func(context.Context) error, error) {
		return func(context.Context) error { return errors.New("flush failed") }, nil
	})

	assert.Equal(t, 1, *code)
}
