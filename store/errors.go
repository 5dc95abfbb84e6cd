package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDimensionMismatch means a vector length disagrees with the owner's established dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStoreUnavailable means the durable backend could not serve the request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DimensionMismatchError carries the expected and received dimensions.
type DimensionMismatchError struct {
	OwnerID  string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch for owner %s: expected %d, got %d", e.OwnerID, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string { return "store unavailable: " + e.op + ": " + e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// unavailable marks a driver failure as ErrStoreUnavailable. Context errors
// keep their identity so callers can tell a timeout apart.
func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return &unavailableError{op: op, err: err}
}

// IsTimeout reports whether err came from a cancelled or expired context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
