package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTemporary marks transient external failures worth retrying.
	ErrTemporary = errors.New("temporary failure")
	// ErrStageFailed marks a hard stage failure that aborts the document.
	ErrStageFailed = errors.New("stage failed")
	// ErrDuplicateJob rejects a submission for a company already running.
	ErrDuplicateJob = errors.New("company batch already active")
	// ErrNotConfigured signals missing credentials or endpoints.
	ErrNotConfigured = errors.New("not configured")
	// ErrJobNotFound signals an unknown document job.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidInput marks submissions the scheduler cannot accept.
	ErrInvalidInput = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
