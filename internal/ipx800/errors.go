package ipx800

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransientIO is returned for network errors, timeouts and non-200 responses.
	ErrTransientIO = errors.New("ipx800: transient I/O error")

	// ErrMalformedResponse is returned when the status document cannot be parsed.
	ErrMalformedResponse = errors.New("ipx800: malformed response")

	// ErrActuationFailed matches every *ActuationError.
	ErrActuationFailed = errors.New("ipx800: actuation failed")

	// ErrInvalidChannel is returned when asked to actuate something that is not an output.
	ErrInvalidChannel = errors.New("ipx800: invalid output channel")
)

// ActuationError reports the outputs that could not be set.
//
// Channels not listed in Failed were set successfully.
type ActuationError struct {
	// Failed lists the output channels whose request did not return 200,
	// in the order they were attempted.
	Failed []string

	// Causes holds the underlying error per failed channel.
	Causes map[string]error
}

func (e *ActuationError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, ch := range e.Failed {
		if cause := e.Causes[ch]; cause != nil {
			parts = append(parts, fmt.Sprintf("%s (%v)", ch, cause))
		} else {
			parts = append(parts, ch)
		}
	}
	return "ipx800: actuation failed for " + strings.Join(parts, ", ")
}

// Is makes errors.Is(err, ErrActuationFailed) true for any ActuationError.
func (e *ActuationError) Is(target error) bool {
	return target == ErrActuationFailed
}

// FailedChannels extracts the failed channel list from err, or nil when err
// is not an actuation failure.
func FailedChannels(err error) []string {
	var ae *ActuationError
	if errors.As(err, &ae) {
		return append([]string(nil), ae.Failed...)
	}
	return nil
}
