package bridge

import "errors"

var (
	// ErrInvalidCommand is returned when a consumer message cannot be decoded
	// or lacks a required field.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrUnknownAction is returned for a message whose action is not supported.
	ErrUnknownAction = errors.New("bridge: unknown action")

	// ErrStatePersist is returned when outputs were driven but the new logical
	// state could not be committed. The intent stays pending and is confirmed
	// by the next recovery pass.
	ErrStatePersist = errors.New("bridge: state not persisted")
)
