package main

import (
	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/cache"
	"github.com/godamri/helix-audit/crypto"
	"github.com/godamri/helix-audit/database"
	logpkg "github.com/godamri/helix-audit/log"
	"github.com/godamri/helix-audit/messaging"
	"github.com/godamri/helix-audit/server"
	"github.com/godamri/helix-audit/server/middleware"
)

// Config is the service configuration: YAML file first, environment on top.
type Config struct {
	Log       logpkg.Config              `yaml:"log"`
	Database  database.Config            `yaml:"database"`
	Redis     cache.Config               `yaml:"redis"`
	Kafka     KafkaConfig                `yaml:"kafka"`
	Server    server.Config              `yaml:"server"`
	Auth      AuthConfig                 `yaml:"auth"`
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`
	Audit     audit.Config               `yaml:"audit"`

	// NotifyStdout also writes every notification as a JSON line to stdout.
	NotifyStdout bool `envconfig:"AUDIT_NOTIFY_STDOUT" yaml:"notify_stdout" default:"false"`
}

type KafkaConfig struct {
	messaging.Config `yaml:",inline"`
	// Driver picks the producer client for notifications.
	Driver string `envconfig:"KAFKA_DRIVER" yaml:"driver" default:"franz" validate:"oneof=franz sarama"`
	// RefreshCache consumes notifications to refresh the last-record cache.
	RefreshCache bool `envconfig:"KAFKA_REFRESH_CACHE" yaml:"refresh_cache" default:"true"`
}

type AuthConfig struct {
	Mode    string                         `envconfig:"AUTH_MODE" yaml:"mode" default:"none" validate:"oneof=none jwt gateway"`
	JWKS    crypto.JWKSConfig              `yaml:"jwks"`
	Gateway middleware.TrustedHeaderConfig `yaml:"gateway"`
}
