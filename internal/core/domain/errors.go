package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLabel         = errors.New("invalid label")
	ErrUnknownNode          = errors.New("unknown node")
	ErrCycleDetected        = errors.New("cycle detected")
	ErrUnknownVersion       = errors.New("unknown version")
	ErrUnknownItem          = errors.New("unknown review item")
	ErrAlreadyResolved      = errors.New("review item already resolved")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTemporary            = errors.New("temporary failure")
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
