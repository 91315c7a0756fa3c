package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/godamri/helix-audit/crypto"
)

// TrustedHeaderStrategy trusts identity headers set by an API gateway. The
// request must come from a trusted proxy and, when configured, carry the
// gateway's shared secret.
type TrustedHeaderStrategy struct {
	trustedCIDRs []*net.IPNet
	secretHash   string
	logger       *slog.Logger

	headerUserID    string
	headerActorType string
	headerRoles     string
	headerTenant    string
	headerSecret    string
}

type TrustedHeaderConfig struct {
	TrustedProxies []string `envconfig:"AUTH_TRUSTED_PROXIES" yaml:"trusted_proxies"` // e.g. ["127.0.0.1/32", "10.0.0.0/8"]
	// GatewaySecretHash is the bcrypt hash of the secret the gateway sends.
	// Empty disables the check.
	GatewaySecretHash string `envconfig:"AUTH_GATEWAY_SECRET_HASH" yaml:"gateway_secret_hash"`
	HeaderUserID      string `envconfig:"AUTH_HEADER_USER_ID" yaml:"header_user_id" default:"X-Helix-User-ID"`
	HeaderActorType   string `envconfig:"AUTH_HEADER_ACTOR_TYPE" yaml:"header_actor_type" default:"X-Helix-Actor-Type"`
	HeaderRoles       string `envconfig:"AUTH_HEADER_ROLES" yaml:"header_roles" default:"X-Helix-Role"` // comma separated
	HeaderTenant      string `envconfig:"AUTH_HEADER_TENANT" yaml:"header_tenant" default:"X-Helix-Tenant-ID"`
	HeaderSecret      string `envconfig:"AUTH_HEADER_SECRET" yaml:"header_secret" default:"X-Helix-Gateway-Secret"`
}

func NewTrustedHeaderStrategy(cfg TrustedHeaderConfig, logger *slog.Logger) (*TrustedHeaderStrategy, error) {
	if len(cfg.TrustedProxies) == 0 {
		return nil, errors.New("middleware: gateway auth needs at least one trusted proxy")
	}

	cidrs := make([]*net.IPNet, 0, len(cfg.TrustedProxies))
	for _, cidr := range cfg.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			// Single IPs are accepted as /32 (or /128).
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("middleware: invalid trusted proxy %q", cidr)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			ipNet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		cidrs = append(cidrs, ipNet)
	}

	for _, h := range []struct {
		v   *string
		def string
	}{
		{&cfg.HeaderUserID, "X-Helix-User-ID"},
		{&cfg.HeaderActorType, "X-Helix-Actor-Type"},
		{&cfg.HeaderRoles, "X-Helix-Role"},
		{&cfg.HeaderTenant, "X-Helix-Tenant-ID"},
		{&cfg.HeaderSecret, "X-Helix-Gateway-Secret"},
	} {
		if *h.v == "" {
			*h.v = h.def
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TrustedHeaderStrategy{
		trustedCIDRs:    cidrs,
		secretHash:      cfg.GatewaySecretHash,
		logger:          logger,
		headerUserID:    cfg.HeaderUserID,
		headerActorType: cfg.HeaderActorType,
		headerRoles:     cfg.HeaderRoles,
		headerTenant:    cfg.HeaderTenant,
		headerSecret:    cfg.HeaderSecret,
	}, nil
}

func (s *TrustedHeaderStrategy) Authenticate(ctx context.Context, payload AuthPayload) (Identity, error) {
	host, _, err := net.SplitHostPort(payload.RemoteAddr)
	if err != nil {
		return Identity{}, fmt.Errorf("unparsable remote address %q", payload.RemoteAddr)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return Identity{}, errors.New("invalid remote ip")
	}

	if !s.trusted(ip) {
		s.logger.WarnContext(ctx, "identity headers from untrusted source", "ip", host, "route", payload.Route)
		return Identity{}, errors.New("untrusted source")
	}

	if s.secretHash != "" && !crypto.CheckSecret(s.secretHash, payload.Header.Get(s.headerSecret)) {
		s.logger.WarnContext(ctx, "gateway secret mismatch", "ip", host, "route", payload.Route)
		return Identity{}, errors.New("invalid gateway secret")
	}

	userID := payload.Header.Get(s.headerUserID)
	if userID == "" {
		return Identity{}, errors.New("missing identity header")
	}

	actorType := payload.Header.Get(s.headerActorType)
	if actorType == "" {
		actorType = "user"
	}

	roles := []string{}
	for _, role := range strings.Split(payload.Header.Get(s.headerRoles), ",") {
		if trimmed := strings.TrimSpace(role); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}

	return Identity{
		ActorID:   userID,
		ActorType: actorType,
		TenantID:  payload.Header.Get(s.headerTenant),
		Roles:     roles,
	}, nil
}

func (s *TrustedHeaderStrategy) trusted(ip net.IP) bool {
	for _, cidr := range s.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
