package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// Config holds the audit store connection settings.
type Config struct {
	DSN             string        `envconfig:"DB_DSN" yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" yaml:"max_open_conns" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" yaml:"conn_max_lifetime" default:"15m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" yaml:"conn_max_idle_time" default:"5m"`
	PingTimeout     time.Duration `envconfig:"DB_PING_TIMEOUT" yaml:"ping_timeout" default:"5s"`
	// AutoMigrate applies the embedded schema migrations at startup.
	AutoMigrate bool `envconfig:"DB_AUTO_MIGRATE" yaml:"auto_migrate" default:"true"`
}

// NewPostgres opens a pooled *sql.DB on the pgx driver. Queries are traced
// and pool stats exported through OTel. The database must answer a ping
// within PingTimeout.
func NewPostgres(ctx context.Context, cfg Config, serviceName string) (*sql.DB, error) {
	db, err := otelsql.Open("pgx", cfg.DSN,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL, semconv.ServiceNameKey.String(serviceName)),
		otelsql.WithDBName("audits"),
	)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	otelsql.ReportDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	return db, nil
}
