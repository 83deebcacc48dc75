package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors for cache operations.
var (
	ErrClosed          = errors.New("cache: cache is shut down")
	ErrNilFactory      = errors.New("cache: factory is nil")
	ErrNilAction       = errors.New("cache: action is nil")
	ErrConstruction    = errors.New("cache: resource construction failed")
	ErrInvalidLocation = errors.New("cache: location is invalid")
	ErrTeardown        = errors.New("cache: teardown failed")
)

// ConstructionError reports a factory failure for a key.
//
// errors.Is matches both ErrConstruction and the factory's own error.
type ConstructionError struct {
	Key Key
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("cache: construct %s: %v", e.Key, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }
