package audit

// Policy controls how update change sets are built.
type Policy struct {
	FullSnapshotOnUpdate  bool
	IgnoredFieldsOnUpdate []string
}

// Snapshot is what the pre-mutation hook captured from an entity.
// Original holds the pre-change values of dirty attributes only.
// Attributes is the full attribute image at capture time.
type Snapshot struct {
	Original   Values
	Attributes Values
}

// ChangeSet is the old/new pair to persist. Either side may be nil (absent).
type ChangeSet struct {
	Old Values
	New Values
}

// ComputeChanges builds the change set for event. The boolean result is false
// when an update changed nothing outside the ignored fields and must not be recorded.
func ComputeChanges(event Event, after Values, before Snapshot, policy Policy) (ChangeSet, bool) {
	switch event {
	case EventCreate:
		return ChangeSet{New: nonNil(after.Clone())}, true
	case EventDelete:
		old := before.Attributes
		if old == nil {
			old = after
		}
		return ChangeSet{Old: nonNil(old.Clone())}, true
	case EventUpdate:
		return computeUpdate(after, before.Original, policy)
	}
	return ChangeSet{}, false
}

func computeUpdate(after, dirtyOriginal Values, policy Policy) (ChangeSet, bool) {
	if after == nil {
		after = Values{}
	}

	beforeFull := after.Clone()
	for key, value := range dirtyOriginal {
		beforeFull[key] = value
	}

	ignored := make(map[string]struct{}, len(policy.IgnoredFieldsOnUpdate))
	for _, field := range policy.IgnoredFieldsOnUpdate {
		ignored[field] = struct{}{}
	}

	// beforeFull already covers the dirty-original keys.
	keys := make(map[string]struct{}, len(beforeFull)+len(after))
	for key := range beforeFull {
		keys[key] = struct{}{}
	}
	for key := range after {
		keys[key] = struct{}{}
	}

	changedOld := Values{}
	changedNew := Values{}
	for key := range keys {
		if _, skip := ignored[key]; skip {
			continue
		}
		beforeVal, inBefore := beforeFull[key]
		afterVal, inAfter := after[key]
		if inBefore == inAfter && shallowEqual(beforeVal, afterVal) {
			continue
		}
		changedOld[key] = beforeVal
		changedNew[key] = afterVal
	}

	if len(changedNew) == 0 {
		return ChangeSet{}, false
	}

	if policy.FullSnapshotOnUpdate {
		return ChangeSet{Old: beforeFull, New: after.Clone()}, true
	}
	return ChangeSet{Old: changedOld, New: changedNew}, true
}

func nonNil(v Values) Values {
	if v == nil {
		return Values{}
	}
	return v
}
