package inbox

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/inbox/store"
)

// Sentinel errors for the inbox package.
// Use errors.Is() to check for these errors.
var (
	// ErrNotFound is returned when a message is not in the inbox.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("inbox: %w", store.ErrNotFound)

	// ErrRepositoryRequired is returned when no repository is configured.
	ErrRepositoryRequired = errors.New("inbox: repository is required")

	// ErrTransportRequired is returned when syncing without a transport.
	ErrTransportRequired = errors.New("inbox: transport is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("inbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("inbox: %w", store.ErrAlreadyConnected)

	// ErrMalformedPayload is returned by transports when the server
	// response cannot be parsed. Cycles failing with it are terminal.
	ErrMalformedPayload = errors.New("inbox: malformed payload")

	// ErrRefreshFailed is returned by RefreshWait when the refresh did not
	// succeed.
	ErrRefreshFailed = errors.New("inbox: refresh failed")
)

// SyncError describes a failed sync step.
type SyncError struct {
	CycleID string // Cycle that failed
	Step    string // "fetch", "flush_read" or "flush_deleted"
	Err     error  // Underlying error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("inbox: sync %s failed (cycle %s): %v", e.Step, e.CycleID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsRetryableError reports whether err is transient.
func IsRetryableError(err error) bool {
	return err != nil && ClassifyError(err) == VerdictRetry
}
