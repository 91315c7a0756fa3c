package crypto

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidToken = errors.New("crypto: invalid token")
	ErrExpiredToken = errors.New("crypto: token expired")
	ErrUnknownKey   = errors.New("crypto: unknown signing key")
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*ActorClaims, error)
}

// JWKSConfig points the verifier at the identity provider.
type JWKSConfig struct {
	URL             string        `envconfig:"AUTH_JWKS_URL" yaml:"jwks_url"`
	Issuer          string        `envconfig:"AUTH_ISSUER" yaml:"issuer"`
	RefreshInterval time.Duration `envconfig:"AUTH_JWKS_REFRESH" yaml:"jwks_refresh" default:"15m"`
	// MissCooldown bounds how often an unknown kid may force a refetch.
	MissCooldown time.Duration `envconfig:"AUTH_JWKS_MISS_COOLDOWN" yaml:"jwks_miss_cooldown" default:"30s"`
}

// KeySet verifies RS* tokens against a periodically refreshed JWKS document.
type KeySet struct {
	cfg    JWKSConfig
	client *http.Client
	log    *slog.Logger
	group  singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet fetches the key set once, failing fast, then refreshes it in the
// background until ctx is cancelled.
func NewKeySet(ctx context.Context, cfg JWKSConfig, logger *slog.Logger) (*KeySet, error) {
	if cfg.URL == "" || cfg.Issuer == "" {
		return nil, errors.New("crypto: jwks url and issuer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}

	ks := &KeySet{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    logger.With("component", "jwks"),
	}
	if err := ks.refresh(ctx); err != nil {
		return nil, fmt.Errorf("crypto: initial jwks fetch: %w", err)
	}

	go ks.refreshLoop(ctx)
	return ks, nil
}

func (ks *KeySet) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(ks.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := ks.refresh(rctx); err != nil {
				// Old keys stay in place.
				ks.log.Error("jwks refresh failed", "error", err, "url", ks.cfg.URL)
			}
			cancel()
		}
	}
}

// refresh replaces the key set. Concurrent callers share one fetch.
func (ks *KeySet) refresh(ctx context.Context) error {
	_, err, _ := ks.group.Do("refresh", func() (any, error) {
		keys, err := ks.fetch(ctx)
		if err != nil {
			return nil, err
		}
		ks.mu.Lock()
		ks.keys = keys
		ks.fetchedAt = time.Now()
		ks.mu.Unlock()
		return nil, nil
	})
	return err
}

func (ks *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") || jwk.Kid == "" {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			ks.log.Warn("skipping malformed jwk", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks has no usable RSA signing keys")
	}
	return keys, nil
}

// lookup returns the key for kid, refetching at most once per MissCooldown
// when it is unknown.
func (ks *KeySet) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	stale := time.Since(ks.fetchedAt) >= ks.cfg.MissCooldown
	ks.mu.RUnlock()
	if ok {
		return key, nil
	}
	if !stale {
		return nil, ErrUnknownKey
	}

	ks.log.WarnContext(ctx, "unknown kid, refetching jwks", "kid", kid)
	if err := ks.refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}

	ks.mu.RLock()
	key, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// VerifyToken checks signature, issuer and expiry. Every failure wraps
// ErrInvalidToken except expiry, which is ErrExpiredToken.
func (ks *KeySet) VerifyToken(ctx context.Context, token string) (*ActorClaims, error) {
	claims := &ActorClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			return ks.lookup(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(ks.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil || len(n) == 0 {
		return nil, errors.New("bad modulus")
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil || len(e) == 0 {
		return nil, errors.New("bad exponent")
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
