package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a malformed subscription config or a missing required id.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks a schema violation.
	ErrValidation = errors.New("validation failed")
	// ErrRemote marks a failed store operation.
	ErrRemote = errors.New("remote store error")
	// ErrAuth marks missing or invalid credentials, or no uid after auth.
	ErrAuth = errors.New("auth error")

	ErrNotFound       = errors.New("not found")
	ErrInvalidBackend = errors.New("invalid backend")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}
