package smartsync

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidChange    = errors.New("smartsync: invalid change")
	ErrConflictNotFound = errors.New("smartsync: conflict not found")
	ErrElementBlocked   = errors.New("smartsync: element has an unresolved conflict")
)

// SyncError ties a failed sync step to the device it was talking to.
type SyncError struct {
	DeviceID string
	Op       string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s with %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
