package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConstraintViolation indicates the database rejected a write that
	// would have broken one of the enforced till invariants. The wrapped
	// message carries the trigger or constraint detail.
	ErrConstraintViolation = errors.New("constraint violation")
)
