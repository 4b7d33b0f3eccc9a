package aes67

import "errors"

var (
	// ErrClosed is returned when creating instances on a closed virtual
	// sound card.
	ErrClosed = errors.New("virtual sound card is closed")

	// ErrEmptyID is returned when a descriptor carries no id.
	ErrEmptyID = errors.New("stream id must not be empty")

	// ErrReceiverExists is returned when a receiver id is already taken.
	ErrReceiverExists = errors.New("receiver already exists")

	// ErrSenderExists is returned when a sender id is already taken.
	ErrSenderExists = errors.New("sender already exists")

	// ErrReceiverNotFound is returned when no receiver is registered under
	// the given id.
	ErrReceiverNotFound = errors.New("receiver not found")

	// ErrSenderNotFound is returned when no sender is registered under the
	// given id.
	ErrSenderNotFound = errors.New("sender not found")
)
