package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// SetOutputState drives raw output channels without touching any logical
// device.
//
// Every channel is attempted. Channels that succeeded keep their new value
// in the published snapshot even when others failed.
//
// Returns:
//   - error: *ipx800.ActuationError listing exactly the failed channels,
//     ipx800.ErrInvalidChannel when a name is not an output, or nil
func (b *Bridge) SetOutputState(ctx context.Context, channels []string, desired bool) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidCommand)
	}

	b.mu.Lock()
	err := b.setOutputsLocked(ctx, channels, desired)
	var snap *state.Canonical
	if err == nil || ipx800.FailedChannels(err) != nil {
		s := b.snapshotLocked()
		snap = &s
	}
	b.mu.Unlock()

	if snap != nil {
		b.hub.Publish(*snap)
	}
	if err != nil {
		b.logger.Warn("output actuation failed", "endpoint", b.endpoint.ID, "channels", channels, "error", err)
		return err
	}
	b.logger.Info("outputs set", "endpoint", b.endpoint.ID, "channels", channels, "state", desired)
	return nil
}

// SetDeviceState drives every output of a device to desired and then
// commits desired as its logical state.
//
// The intent is recorded before the outputs are driven. When actuation
// fails the intent is dropped and the logical state is left unchanged. If
// the intent cannot be dropped either, the error also wraps ErrStatePersist
// and the next recovery pass clears the intent without driving it.
// Asking for the state the device is already in re-drives the outputs and
// succeeds.
//
// Returns:
//   - *device.LogicalDevice: The device after the change
//   - error: device.ErrDeviceNotFound, an actuation error, ErrStatePersist
//     or a registry error
func (b *Bridge) SetDeviceState(ctx context.Context, id string, desired bool) (*device.LogicalDevice, error) {
	d, snap, err := b.setDeviceState(ctx, id, desired)
	if snap != nil {
		b.hub.Publish(*snap)
	}
	return d, err
}

func (b *Bridge) setDeviceState(ctx context.Context, id string, desired bool) (*device.LogicalDevice, *state.Canonical, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.registry.GetDevice(id)
	if err != nil {
		return nil, nil, err
	}

	intent := device.StateChange{DeviceID: d.ID, LogicalState: d.LogicalState, Pending: device.BoolPtr(desired)}
	if err := b.registry.ApplyStates(ctx, []device.StateChange{intent}); err != nil {
		return nil, nil, err
	}
	delete(b.abandoned, d.ID)

	if actErr := b.setOutputsLocked(ctx, d.OutputChannels, desired); actErr != nil {
		b.logger.Warn("device actuation failed", "endpoint", b.endpoint.ID, "device", d.ID,
			"desired", desired, "error", actErr)

		rollback := device.StateChange{DeviceID: d.ID, LogicalState: d.LogicalState}
		if err := b.registry.ApplyStates(ctx, []device.StateChange{rollback}); err != nil {
			b.logger.Error("failed to clear actuation intent", "endpoint", b.endpoint.ID, "device", d.ID, "error", err)
			b.abandoned[d.ID] = true
			actErr = errors.Join(actErr, fmt.Errorf("%w: clearing intent: %v", ErrStatePersist, err))
		}
		snap := b.snapshotLocked()
		current, _ := b.registry.GetDevice(d.ID)
		return current, &snap, actErr
	}

	commit := device.StateChange{DeviceID: d.ID, LogicalState: desired}
	if desired != d.LogicalState {
		commit.Source = device.SourceCommand
	}
	if err := b.registry.ApplyStates(ctx, []device.StateChange{commit}); err != nil {
		b.logger.Error("outputs driven but state not committed", "endpoint", b.endpoint.ID, "device", d.ID, "error", err)
		snap := b.snapshotLocked()
		return nil, &snap, fmt.Errorf("%w: %v", ErrStatePersist, err)
	}

	b.logger.Info("device state set", "endpoint", b.endpoint.ID, "device", d.ID, "state", desired)
	snap := b.snapshotLocked()
	current, err := b.registry.GetDevice(d.ID)
	if err != nil {
		return nil, &snap, err
	}
	return current, &snap, nil
}
