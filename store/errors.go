package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an empty or malformed ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidMessage is returned when a message is missing required fields.
	ErrInvalidMessage = errors.New("store: invalid message")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrTransactionFailed is returned when a database transaction fails.
	// No changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
