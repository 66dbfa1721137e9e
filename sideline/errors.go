package sideline

import "errors"

var (
	// ErrAlreadyOpened is returned when Open is called on a virtual
	// consumer that was already opened.
	ErrAlreadyOpened = errors.New("virtual consumer already opened")

	// ErrNotOpened is returned when an operation requires an opened
	// consumer.
	ErrNotOpened = errors.New("virtual consumer not opened")

	// ErrInvalidMessageID is returned when an ack or fail token is not a
	// MessageID produced by this engine.
	ErrInvalidMessageID = errors.New("not a sideline message id")

	// ErrMissingEndingOffset is returned when a bounded consumer meets a
	// partition its ending state does not cover.
	ErrMissingEndingOffset = errors.New("no ending offset configured for partition")
)
