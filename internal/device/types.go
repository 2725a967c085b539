package device

import (
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// History sources recorded with every logical state change.
const (
	SourceInput    = "input"
	SourceCommand  = "command"
	SourceRecovery = "recovery"
)

// LogicalDevice is a named group of physical outputs driven by one logical
// on/off state, optionally toggled by one physical input.
type LogicalDevice struct {
	// ID is unique within the endpoint and never changes.
	ID string `json:"id"`

	// Name is a human-readable label. Duplicates are allowed.
	Name string `json:"name"`

	// InputChannel is the btnN input that toggles this device ("" = none).
	InputChannel string `json:"inputChannel,omitempty"`

	// OutputChannels are the ledN outputs that follow LogicalState, without
	// duplicates, in the order they were defined.
	OutputChannels []string `json:"outputChannels"`

	// LogicalState is the intended on/off state.
	LogicalState bool `json:"logicalState"`

	// PendingState is an actuation intent not yet confirmed by the
	// controller. nil means nothing is outstanding.
	PendingState *bool `json:"pendingState,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// seq is the registration order within the endpoint.
	seq int64
}

// DeepCopy returns an independent copy of the device.
func (d *LogicalDevice) DeepCopy() *LogicalDevice {
	if d == nil {
		return nil
	}
	out := *d
	out.OutputChannels = append([]string(nil), d.OutputChannels...)
	if d.PendingState != nil {
		p := *d.PendingState
		out.PendingState = &p
	}
	return &out
}

// View converts the device to the consumer-facing shape.
func (d *LogicalDevice) View() state.Device {
	return state.Device{
		ID:             d.ID,
		Name:           d.Name,
		InputChannel:   d.InputChannel,
		OutputChannels: append([]string(nil), d.OutputChannels...),
		LogicalState:   d.LogicalState,
		Pending:        d.PendingState != nil,
	}
}

// Definition is the user-supplied description of a device to add.
type Definition struct {
	// ID is optional; a UUID is generated when empty.
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	InputChannel   string   `json:"inputChannel,omitempty"`
	OutputChannels []string `json:"outputChannels"`
	LogicalState   bool     `json:"logicalState,omitempty"`
}

// StateChange is one row update applied by Registry.ApplyStates.
type StateChange struct {
	DeviceID string

	// LogicalState is written as-is. Pass the current value to leave it unchanged.
	LogicalState bool

	// Pending is written as-is; nil clears the intent.
	Pending *bool

	// Source, when non-empty, appends a state_history row for LogicalState.
	Source string
}

// EndpointInfo describes the controller a registry file belongs to.
type EndpointInfo struct {
	EndpointID   string        `json:"endpointId"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	PollInterval time.Duration `json:"pollInterval"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// HistoryEntry is one recorded logical state change.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"deviceId"`
	State      bool      `json:"state"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recordedAt"`
}

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}
