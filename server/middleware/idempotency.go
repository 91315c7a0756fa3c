package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-audit/http/response"
	"github.com/godamri/helix-audit/pkg/contextx"
)

// processingMarker holds a key while the first request is in flight.
const processingMarker = "PROCESSING"

type IdempotencyConfig struct {
	HeaderKey   string
	Expiry      time.Duration
	LockTTL     time.Duration
	RedisClient redis.Cmdable
	Logger      *slog.Logger
}

// storedResponse is the replayable outcome of a request.
type storedResponse struct {
	Route  string      `json:"route"`
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

type idempotency struct {
	cfg IdempotencyConfig
}

// IdempotencyMiddleware replays the stored response of a repeated unsafe
// request carrying the same Idempotency-Key, so a retried revert does not
// record a second transition. Keys are scoped per caller. Reusing a key for
// a different route is a conflict.
func IdempotencyMiddleware(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	if cfg.HeaderKey == "" {
		cfg.HeaderKey = "Idempotency-Key"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &idempotency{cfg: cfg}
	return m.wrap
}

func (m *idempotency) redisKey(r *http.Request, key string) string {
	caller := contextx.GetActorID(r.Context())
	if caller == "" {
		caller = "anon_ip:" + clientIP(r)
	}
	return "idempotency:" + caller + ":" + key
}

func (m *idempotency) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.cfg.HeaderKey)
		if key == "" || isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		rk := m.redisKey(r, key)
		route := r.Method + " " + r.URL.Path

		acquired, err := m.cfg.RedisClient.SetNX(ctx, rk, processingMarker, m.cfg.LockTTL).Result()
		if err != nil {
			m.cfg.Logger.ErrorContext(ctx, "idempotency store unavailable", "error", err)
			response.ErrorJSON(w, r, http.StatusServiceUnavailable, response.ErrServiceUnavail, "idempotency store unavailable")
			return
		}
		if !acquired {
			if m.replay(ctx, w, r, rk, route) {
				return
			}
		}

		var body bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&body)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.store(ctx, rk, storedResponse{
			Route:  route,
			Status: status,
			Header: w.Header().Clone(),
			Body:   body.Bytes(),
		})
	})
}

// replay answers from the stored entry. It returns false when the entry is
// gone or unreadable and the request should run normally.
func (m *idempotency) replay(ctx context.Context, w http.ResponseWriter, r *http.Request, rk, route string) bool {
	val, err := m.cfg.RedisClient.Get(ctx, rk).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		response.ErrorJSON(w, r, http.StatusServiceUnavailable, response.ErrServiceUnavail, "idempotency store unavailable")
		return true
	}
	if val == processingMarker {
		response.ErrorJSON(w, r, http.StatusConflict, response.ErrIdempotency, "request is currently being processed")
		return true
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		m.cfg.Logger.WarnContext(ctx, "unreadable idempotency entry, reprocessing", "key", rk)
		return false
	}
	if stored.Route != "" && stored.Route != route {
		response.ErrorJSON(w, r, http.StatusConflict, response.ErrIdempotency, "idempotency key was used for a different request")
		return true
	}

	m.cfg.Logger.InfoContext(ctx, "idempotent replay", "key", rk, "route", route)
	for k, vs := range stored.Header {
		if _, set := w.Header()[k]; !set {
			w.Header()[k] = vs
		}
	}
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true
}

// store keeps the outcome. Server errors release the key so the client may
// retry.
func (m *idempotency) store(ctx context.Context, rk string, resp storedResponse) {
	if resp.Status >= http.StatusInternalServerError {
		m.cfg.RedisClient.Del(ctx, rk)
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		m.cfg.RedisClient.Del(ctx, rk)
		return
	}
	if err := m.cfg.RedisClient.Set(ctx, rk, data, m.cfg.Expiry).Err(); err != nil {
		m.cfg.Logger.WarnContext(ctx, "storing idempotent response failed", "key", rk, "error", err)
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
