package audit

import "time"

// Config is resolved once per process and read-only afterwards.
type Config struct {
	// FullSnapshotOnUpdate stores complete before/after images for updates
	// instead of only the changed attributes.
	FullSnapshotOnUpdate bool `envconfig:"AUDIT_FULL_SNAPSHOT_ON_UPDATE" yaml:"full_snapshot_on_update" default:"false"`

	// IgnoredFieldsOnUpdate never count as a change (e.g. updated_at).
	IgnoredFieldsOnUpdate []string `envconfig:"AUDIT_IGNORED_FIELDS_ON_UPDATE" yaml:"ignored_fields_on_update"`

	// HiddenFields are stored as Redacted in every payload.
	HiddenFields []string `envconfig:"AUDIT_HIDDEN_FIELDS" yaml:"hidden_fields"`

	// WarnOnMissingContext logs a warning when a context resolver finds no
	// request scope. Disable for workers and CLIs where that is the norm.
	WarnOnMissingContext bool `envconfig:"AUDIT_WARN_ON_MISSING_CONTEXT" yaml:"warn_on_missing_context" default:"true"`

	// NotifyBufferSize is the size of the async notification channel.
	NotifyBufferSize int `envconfig:"AUDIT_NOTIFY_BUFFER_SIZE" yaml:"notify_buffer_size" default:"1024" validate:"gte=0"`

	// NotifyBlockOnFull blocks the caller instead of dropping notifications
	// when the buffer is full. The record is already persisted either way.
	NotifyBlockOnFull bool `envconfig:"AUDIT_NOTIFY_BLOCK_ON_FULL" yaml:"notify_block_on_full" default:"false"`

	KafkaTopic string `envconfig:"AUDIT_KAFKA_TOPIC" yaml:"kafka_topic" default:"system.audit.events"`

	// CacheTTL bounds how long the newest record per entity stays in Redis.
	CacheTTL time.Duration `envconfig:"AUDIT_CACHE_TTL" yaml:"cache_ttl" default:"10m"`
}

// Policy extracts the change-set policy.
func (c Config) Policy() Policy {
	return Policy{
		FullSnapshotOnUpdate:  c.FullSnapshotOnUpdate,
		IgnoredFieldsOnUpdate: append([]string(nil), c.IgnoredFieldsOnUpdate...),
	}
}
