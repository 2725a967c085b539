package bridge

import (
	"context"
	"fmt"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Action names carried by consumer messages.
const (
	ActionSetDeviceState = "setDeviceState"
	ActionSetOutputState = "setOutputState"
	ActionAddDevice      = "addDevice"
	ActionRemoveDevice   = "removeDevice"
	ActionRenameDevice   = "renameDevice"
	ActionGetSnapshot    = "getSnapshot"
)

// Command is a request from a consumer, executed with Bridge.Execute.
type Command interface {
	Action() string
}

// SetDeviceState drives a logical device on or off.
type SetDeviceState struct {
	DeviceID string
	Desired  bool
}

// SetOutputState drives raw outputs, bypassing the logical devices.
type SetOutputState struct {
	Channels []string
	Desired  bool
}

// AddDevice registers a new logical device.
type AddDevice struct {
	Definition device.Definition
}

// RemoveDevice deletes a logical device.
type RemoveDevice struct {
	DeviceID string
}

// RenameDevice changes the name of a logical device.
type RenameDevice struct {
	DeviceID string
	Name     string
}

// GetSnapshot asks for the current canonical state.
type GetSnapshot struct{}

func (SetDeviceState) Action() string { return ActionSetDeviceState }
func (SetOutputState) Action() string { return ActionSetOutputState }
func (AddDevice) Action() string      { return ActionAddDevice }
func (RemoveDevice) Action() string   { return ActionRemoveDevice }
func (RenameDevice) Action() string   { return ActionRenameDevice }
func (GetSnapshot) Action() string    { return ActionGetSnapshot }

// Result is the outcome of Execute.
type Result struct {
	// Device is set by commands that address one device, when it still exists.
	Device *device.LogicalDevice

	// Snapshot is the canonical state after the command.
	Snapshot state.Canonical

	Err error
}

// Execute runs one consumer command.
func (b *Bridge) Execute(ctx context.Context, cmd Command) Result {
	var res Result

	switch c := cmd.(type) {
	case SetDeviceState:
		res.Device, res.Err = b.SetDeviceState(ctx, c.DeviceID, c.Desired)
	case SetOutputState:
		res.Err = b.SetOutputState(ctx, c.Channels, c.Desired)
	case AddDevice:
		res.Device, res.Err = b.AddDevice(ctx, c.Definition)
	case RemoveDevice:
		res.Err = b.RemoveDevice(ctx, c.DeviceID)
	case RenameDevice:
		res.Device, res.Err = b.RenameDevice(ctx, c.DeviceID, c.Name)
	case GetSnapshot:
	case nil:
		res.Err = fmt.Errorf("%w: empty command", ErrInvalidCommand)
	default:
		res.Err = fmt.Errorf("%w: %s", ErrUnknownAction, cmd.Action())
	}

	res.Snapshot = b.Snapshot()
	return res
}

// AddDevice registers a device and publishes the new snapshot.
//
// The device's outputs are not driven; its logical state is taken as given.
func (b *Bridge) AddDevice(ctx context.Context, def device.Definition) (*device.LogicalDevice, error) {
	b.mu.Lock()
	d, err := b.registry.AddDevice(ctx, def)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.Publish(snap)
	return d, nil
}

// RemoveDevice deletes a device and publishes the new snapshot. Its outputs
// are left as they are.
func (b *Bridge) RemoveDevice(ctx context.Context, id string) error {
	b.mu.Lock()
	if err := b.registry.RemoveDevice(ctx, id); err != nil {
		b.mu.Unlock()
		return err
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.Publish(snap)
	return nil
}

// RenameDevice renames a device and publishes the new snapshot.
func (b *Bridge) RenameDevice(ctx context.Context, id, name string) (*device.LogicalDevice, error) {
	b.mu.Lock()
	d, err := b.registry.RenameDevice(ctx, id, name)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.hub.Publish(snap)
	return d, nil
}
