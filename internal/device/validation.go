package device

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Validation limits.
const (
	MaxNameLength = 100
	MaxIDLength   = 64
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// GenerateID returns a new random device ID.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateName checks a device name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

// ValidateDefinition checks def and returns the device it describes.
//
// It trims the name, generates an ID when none is given and removes
// duplicate output channels while keeping their first-seen order. The
// returned device has no timestamps or registration order yet.
//
// Returns:
//   - *LogicalDevice: The normalised device
//   - error: Wrapping ErrInvalidDevice and a more specific sentinel
func ValidateDefinition(def Definition) (*LogicalDevice, error) {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		id = GenerateID()
	} else if len(id) > MaxIDLength || !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidDevice, ErrInvalidID, def.ID)
	}

	if err := ValidateName(def.Name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}

	input := strings.ToLower(strings.TrimSpace(def.InputChannel))
	if input != "" && !state.IsInputChannel(input) {
		return nil, fmt.Errorf("%w: %w: input %q", ErrInvalidDevice, ErrInvalidChannel, def.InputChannel)
	}

	outputs, err := normaliseOutputs(def.OutputChannels)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}

	return &LogicalDevice{
		ID:             id,
		Name:           strings.TrimSpace(def.Name),
		InputChannel:   input,
		OutputChannels: outputs,
		LogicalState:   def.LogicalState,
	}, nil
}

func normaliseOutputs(channels []string) ([]string, error) {
	seen := make(map[string]bool, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if !state.IsOutputChannel(ch) {
			return nil, fmt.Errorf("%w: output %q", ErrInvalidChannel, ch)
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out, nil
}
