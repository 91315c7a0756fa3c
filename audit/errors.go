package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongEntityType: the record was captured for another entity type.
	ErrWrongEntityType = errors.New("audit: wrong entity type")
	// ErrWrongEntityInstance: the record belongs to another instance of the same type.
	ErrWrongEntityInstance = errors.New("audit: wrong entity instance")
	// ErrNullSnapshot: the selected side of the record is absent.
	ErrNullSnapshot = errors.New("audit: selected values are null")
	// ErrIncompatibleAttributes: the record references an attribute the entity does not have.
	ErrIncompatibleAttributes = errors.New("audit: incompatible attributes")
	// ErrCannotRevert: the entity has no audit history.
	ErrCannotRevert = errors.New("audit: cannot revert, no audit history")
	// ErrPersistence wraps every store failure.
	ErrPersistence = errors.New("audit: persistence failed")
	// ErrMissingContext is returned by context resolvers when no request scope is present.
	ErrMissingContext = errors.New("audit: no request context")
)

// TransitionError describes why a record cannot be applied to an entity.
// errors.Is matches it against its Kind.
type TransitionError struct {
	Kind       error
	EntityType string
	EntityID   string
	Side       Side
	Key        string
	Detail     string
}

func (e *TransitionError) Error() string {
	switch e.Kind {
	case ErrWrongEntityType:
		return fmt.Sprintf("%s: expected %s, record is for %s", e.Kind, e.EntityType, e.Detail)
	case ErrWrongEntityInstance:
		return fmt.Sprintf("%s: expected %s#%s, record is for #%s", e.Kind, e.EntityType, e.EntityID, e.Detail)
	case ErrNullSnapshot:
		return fmt.Sprintf("%s: %s values of record are absent", e.Kind, e.Side)
	case ErrIncompatibleAttributes:
		return fmt.Sprintf("%s: %s has no attribute %q", e.Kind, e.EntityType, e.Key)
	}
	return e.Kind.Error()
}

func (e *TransitionError) Unwrap() error {
	return e.Kind
}

// WrapPersistence tags a store failure with ErrPersistence, once.
func WrapPersistence(op string, err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
