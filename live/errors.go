package live

import (
	"errors"
	"fmt"
)

var (
	ErrStarted = errors.New("view already started")
	ErrClosed  = errors.New("view closed")
)

// SnapshotFetchError means the initial snapshot could not be read. The view
// stays empty and is not retried.
type SnapshotFetchError struct {
	Table string
	Err   error
}

func (e *SnapshotFetchError) Error() string {
	return fmt.Sprintf("fetch snapshot of %s: %v", e.Table, e.Err)
}

func (e *SnapshotFetchError) Unwrap() error { return e.Err }
