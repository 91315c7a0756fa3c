package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/godamri/helix-audit/http/response"
	"github.com/godamri/helix-audit/pkg/contextx"
)

// gcraScript is a generic cell rate limiter. It returns {allowed, wait_ms}.
// The theoretical arrival time lives in KEYS[1] as fractional seconds.
var gcraScript = redis.NewScript(`
local interval = tonumber(ARGV[2]) / tonumber(ARGV[1])
local tolerance = interval * tonumber(ARGV[3])

local t = redis.call("TIME")
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000

local tat = tonumber(redis.call("GET", KEYS[1]) or now)
if tat < now then
	tat = now
end

local next_tat = tat + interval
local wait = next_tat - tolerance - now
if wait > 0 then
	return {0, math.ceil(wait * 1000)}
end

redis.call("SET", KEYS[1], tostring(next_tat), "EX", math.ceil(tonumber(ARGV[2]) * 2))
return {1, 0}
`)

// RateLimitConfig enables rate limiting when Rate is positive.
type RateLimitConfig struct {
	Rate   int           `envconfig:"RATE_LIMIT_RATE" yaml:"rate" default:"0" validate:"gte=0"`
	Period time.Duration `envconfig:"RATE_LIMIT_PERIOD" yaml:"period" default:"1m"`
	Burst  int           `envconfig:"RATE_LIMIT_BURST" yaml:"burst" default:"10" validate:"gte=0"`
}

// RateLimiter throttles callers per actor, falling back to the client
// address for anonymous requests. It fails open when Redis is unreachable.
type RateLimiter struct {
	rdb    redis.Scripter
	cfg    RateLimitConfig
	logger *slog.Logger
}

func NewRateLimiter(rdb redis.Scripter, cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &RateLimiter{rdb: rdb, cfg: cfg, logger: logger}
}

func (l *RateLimiter) Enabled() bool { return l.cfg.Rate > 0 }

// allow reports whether the caller may proceed and, if not, how long to wait.
func (l *RateLimiter) allow(ctx context.Context, transport, addr string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	subject := "ip:" + addr
	if actor := contextx.GetActorID(ctx); actor != "" {
		subject = "actor:" + contextx.GetTenantID(ctx) + "/" + actor
	}
	key := fmt.Sprintf("rl:%s:%s", transport, subject)

	res, err := gcraScript.Run(ctx, l.rdb, []string{key}, l.cfg.Rate, l.cfg.Period.Seconds(), l.cfg.Burst).Int64Slice()
	if err != nil || len(res) != 2 {
		l.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "error", err)
		return true, 0
	}
	if res[0] == 1 {
		return true, 0
	}
	return false, time.Duration(res[1]) * time.Millisecond
}

func retryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(int(math.Ceil(wait.Seconds())))
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.allow(r.Context(), "http", clientIP(r))
		if l.Enabled() {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Rate))
		}
		if !ok {
			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			response.ErrorJSON(w, r, http.StatusTooManyRequests, response.ErrRateLimit, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	addr := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		addr = p.Addr.String()
	}
	ok, wait := l.allow(ctx, "grpc", addr)
	if !ok {
		_ = grpc.SetHeader(ctx, metadata.Pairs(
			"retry-after", retryAfterSeconds(wait),
			"x-ratelimit-limit", strconv.Itoa(l.cfg.Rate),
		))
		return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s, retry in %s", info.FullMethod, wait)
	}
	return handler(ctx, req)
}
