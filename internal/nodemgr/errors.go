package nodemgr

import (
	"errors"
	"fmt"

	"github.com/formicaio/formicaiod/internal/storage"
)

// Sentinel error kinds surfaced by the action layer. API surfaces map
// these to a machine-readable kind tag plus a stable message.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyBatched = errors.New("node is part of a scheduled batch")
	ErrCancelled      = errors.New("cancelled")
	ErrTimeout        = errors.New("timed out")
)

// LauncherError wraps a failure of the underlying node launcher.
type LauncherError struct{ Err error }

func (e *LauncherError) Error() string { return fmt.Sprintf("launcher failure: %v", e.Err) }
func (e *LauncherError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return fmt.Sprintf("store failure: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// NetworkError wraps a scrape/RPC/ledger transport failure.
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return fmt.Sprintf("network failure: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ErrorKind returns the machine-readable tag for an action-layer error.
func ErrorKind(err error) string {
	var (
		launcherErr *LauncherError
		storeErr    *StoreError
		networkErr  *NetworkError
	)
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAlreadyBatched), errors.Is(err, storage.ErrAlreadyBatched):
		return "already_batched"
	case errors.Is(err, ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &launcherErr):
		return "launcher_failure"
	case errors.As(err, &storeErr):
		return "store_failure"
	case errors.As(err, &networkErr):
		return "network_failure"
	default:
		return "internal"
	}
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyBatched) {
		return err
	}
	return &StoreError{Err: err}
}
