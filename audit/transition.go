package audit

// TransitionTo writes the selected side of rec onto entity. Checks run in order
// and the first failure wins: entity type, instance id, absent side, then
// unknown attributes. Keys missing from the selected map are left untouched.
func TransitionTo(entity Entity, rec Record, side Side) error {
	entityType := TypeName(entity)
	if rec.EntityType != entityType {
		return &TransitionError{Kind: ErrWrongEntityType, EntityType: entityType, Detail: rec.EntityType}
	}

	entityID := entity.AuditKey()
	if rec.EntityID != entityID {
		return &TransitionError{Kind: ErrWrongEntityInstance, EntityType: entityType, EntityID: entityID, Detail: rec.EntityID}
	}

	values := rec.Values(side)
	if values == nil {
		return &TransitionError{Kind: ErrNullSnapshot, EntityType: entityType, EntityID: entityID, Side: side}
	}

	current := entity.AuditAttributes()
	// Sorted so the reported key is deterministic.
	keys := values.Keys()
	for _, key := range keys {
		if !current.Has(key) {
			return &TransitionError{Kind: ErrIncompatibleAttributes, EntityType: entityType, EntityID: entityID, Side: side, Key: key}
		}
	}

	for _, key := range keys {
		entity.SetAuditAttribute(key, values[key])
	}
	return nil
}
