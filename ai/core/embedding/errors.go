package embedding

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks any failure to obtain a vector from the provider.
var ErrUnavailable = errors.New("embedding unavailable")

// UnavailableError wraps a provider failure.
type UnavailableError struct {
	Model string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("embedding unavailable (model %s): %v", e.Model, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable wraps err as an UnavailableError.
func Unavailable(model string, err error) error {
	if err == nil {
		err = errors.New("unknown provider failure")
	}
	return &UnavailableError{Model: model, Err: err}
}
