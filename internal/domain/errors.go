package domain

import "errors"

// Error taxonomy shared by every component. Callers classify with errors.Is.
var (
	// ErrValidation marks bad input. Never retried automatically.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateItem means the (source, native id) item already exists.
	ErrDuplicateItem = errors.New("item already exists")
	// ErrConflict means a concurrent writer created the same record first.
	ErrConflict = errors.New("conflicting concurrent write")
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStorage marks a failed persistence write or read.
	ErrStorage = errors.New("storage failure")
	// ErrIO marks a failed filesystem operation.
	ErrIO = errors.New("io failure")
)

// IsAlreadyDone reports errors that callers treat as success-equivalent:
// someone else already created the record, so re-read instead of retrying.
func IsAlreadyDone(err error) bool {
	return errors.Is(err, ErrDuplicateItem) || errors.Is(err, ErrConflict)
}

// IsRetryable reports infrastructure failures worth a fresh attempt later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrIO)
}
