package models

import "errors"

var (
	// ErrInvalidObservation indicates bad caller input. Fails fast, no
	// downstream calls are made.
	ErrInvalidObservation = errors.New("invalid entity observation")

	// ErrEntityNotFound indicates the requested entity does not exist within
	// the tenant/cell scope.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityConflict indicates a concurrent create raced on the
	// (name, entity_type, tenant, cell) uniqueness guard. The resolution is
	// retried once so the new winner is found via exact match.
	ErrEntityConflict = errors.New("entity already exists")

	// ErrDependencyUnavailable indicates the entity store or embedding
	// provider was unreachable for every strategy that needed it.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
