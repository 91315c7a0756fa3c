package audit

import "context"

// History is a restartable view over one entity's audit trail.
// Every call queries the store again.
type History struct {
	store      Store
	entityType string
	entityID   string
}

func (h *History) All(ctx context.Context) ([]Record, error) {
	recs, err := h.store.ListByEntity(ctx, h.entityType, h.entityID)
	if err != nil {
		return nil, WrapPersistence("list audits", err)
	}
	return recs, nil
}

// First returns the oldest record, or nil when there is none.
func (h *History) First(ctx context.Context) (*Record, error) {
	rec, err := h.store.FirstByEntity(ctx, h.entityType, h.entityID)
	if err != nil {
		return nil, WrapPersistence("first audit", err)
	}
	return rec, nil
}

// Last returns the newest record, or nil when there is none.
func (h *History) Last(ctx context.Context) (*Record, error) {
	rec, err := h.store.LastByEntity(ctx, h.entityType, h.entityID)
	if err != nil {
		return nil, WrapPersistence("last audit", err)
	}
	return rec, nil
}

func (h *History) Count(ctx context.Context) (int, error) {
	n, err := h.store.CountByEntity(ctx, h.entityType, h.entityID)
	if err != nil {
		return 0, WrapPersistence("count audits", err)
	}
	return n, nil
}
