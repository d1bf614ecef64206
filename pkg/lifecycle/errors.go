package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("controller is not installed")

	// ErrRedundant is returned once an install has failed.
	ErrRedundant = errors.New("controller is redundant after a failed install")
)

// InstallError reports the manifest path that made an install fail.
// The failing version never activates.
type InstallError struct {
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install failed at %s: %v", e.Path, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// CleanupError reports legacy stores that could not be removed during
// activation. Activation completes regardless.
type CleanupError struct {
	Stores []string
	Err    error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to delete legacy stores [%s]: %v", strings.Join(e.Stores, ", "), e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}
