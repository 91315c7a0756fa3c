package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/database"
)

const recordColumns = `id, actor_type, actor_id, tenant_id, event, entity_type, entity_id,
	old_values, new_values, metadata, created_at, updated_at`

// Postgres stores audit records in the audits table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Append(ctx context.Context, rec audit.Record) (audit.Record, error) {
	oldValues, err := encodeJSON(rec.OldValues)
	if err != nil {
		return audit.Record{}, audit.WrapPersistence("encode old values", err)
	}
	newValues, err := encodeJSON(rec.NewValues)
	if err != nil {
		return audit.Record{}, audit.WrapPersistence("encode new values", err)
	}
	metadata, err := encodeJSON(rec.Metadata)
	if err != nil {
		return audit.Record{}, audit.WrapPersistence("encode metadata", err)
	}

	const q = `
		INSERT INTO audits (actor_type, actor_id, tenant_id, event, entity_type, entity_id,
			old_values, new_values, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = p.db.QueryRowContext(ctx, q,
		rec.ActorType, rec.ActorID, rec.TenantID, string(rec.Event), rec.EntityType, rec.EntityID,
		oldValues, newValues, metadata,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return audit.Record{}, audit.WrapPersistence("insert audit", database.Classify(err))
	}
	return rec, nil
}

func (p *Postgres) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM audits
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id ASC`

	rows, err := p.db.QueryContext(ctx, q, entityType, entityID)
	if err != nil {
		return nil, audit.WrapPersistence("query audits", database.Classify(err))
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, audit.WrapPersistence("scan audit", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.WrapPersistence("iterate audits", database.Classify(err))
	}
	return out, nil
}

func (p *Postgres) FirstByEntity(ctx context.Context, entityType, entityID string) (*audit.Record, error) {
	return p.one(ctx, entityType, entityID, "ASC")
}

func (p *Postgres) LastByEntity(ctx context.Context, entityType, entityID string) (*audit.Record, error) {
	return p.one(ctx, entityType, entityID, "DESC")
}

func (p *Postgres) CountByEntity(ctx context.Context, entityType, entityID string) (int, error) {
	const q = `SELECT count(*) FROM audits WHERE entity_type = $1 AND entity_id = $2`

	var n int
	if err := p.db.QueryRowContext(ctx, q, entityType, entityID).Scan(&n); err != nil {
		return 0, audit.WrapPersistence("count audits", database.Classify(err))
	}
	return n, nil
}

func (p *Postgres) one(ctx context.Context, entityType, entityID, direction string) (*audit.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM audits
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id ` + direction + ` LIMIT 1`

	rec, err := scanRecord(p.db.QueryRowContext(ctx, q, entityType, entityID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, audit.WrapPersistence("query audit", database.Classify(err))
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (audit.Record, error) {
	var (
		rec                      audit.Record
		event                    string
		oldValues, newValues, md []byte
	)
	err := s.Scan(
		&rec.ID, &rec.ActorType, &rec.ActorID, &rec.TenantID, &event, &rec.EntityType, &rec.EntityID,
		&oldValues, &newValues, &md, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return audit.Record{}, err
	}

	if rec.Event, err = audit.ParseEvent(event); err != nil {
		return audit.Record{}, err
	}
	if rec.OldValues, err = decodeValues(oldValues); err != nil {
		return audit.Record{}, fmt.Errorf("old_values: %w", err)
	}
	if rec.NewValues, err = decodeValues(newValues); err != nil {
		return audit.Record{}, fmt.Errorf("new_values: %w", err)
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &rec.Metadata); err != nil {
			return audit.Record{}, fmt.Errorf("metadata: %w", err)
		}
	}
	return rec, nil
}

// encodeJSON maps a nil map to SQL NULL.
func encodeJSON[M ~map[string]any](m M) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeValues(b []byte) (audit.Values, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var v audit.Values
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var _ audit.Store = (*Postgres)(nil)
