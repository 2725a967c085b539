package bridge

import (
	"context"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Ingest merges a status reading into the endpoint state, toggles the
// devices bound to every input that changed, drives their outputs and
// publishes the resulting snapshot.
//
// update may be partial: channels it does not carry keep their previous
// value. The very first reading of an input is a baseline and never toggles.
//
// Returns:
//   - error: The persistence error if the toggles could not be stored, or
//     the last actuation error. The snapshot is published either way. Inputs
//     whose toggles were not stored keep their previous value, so the next
//     reading reports the same change again.
func (b *Bridge) Ingest(ctx context.Context, update state.Raw) error {
	snap, err := b.ingest(ctx, update)
	b.hub.Publish(snap)
	return err
}

func (b *Bridge) ingest(ctx context.Context, update state.Raw) (state.Canonical, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.raw
	b.raw = previous.Merge(update)

	transitions := b.triggering(state.InputTransitions(previous, b.raw))
	stored, err := b.applyTransitionsLocked(ctx, transitions)
	if !stored {
		// Rewind the inputs so the same reading toggles again next time.
		for _, t := range transitions {
			b.raw.Inputs[t.Channel] = t.From
		}
	}

	if rerr := b.redrivePendingLocked(ctx, transitions); rerr != nil && err == nil {
		err = rerr
	}
	return b.snapshotLocked(), err
}

// triggering filters transitions according to the endpoint trigger mode.
func (b *Bridge) triggering(transitions []state.Transition) []state.Transition {
	if b.endpoint.Trigger != config.TriggerPress {
		return transitions
	}
	out := transitions[:0]
	for _, t := range transitions {
		if t.Pressed() {
			out = append(out, t)
		}
	}
	return out
}

// applyTransitionsLocked toggles every device bound to a changed input.
//
// The toggles are stored in one transaction together with their pending
// intent before any output is driven. Devices whose outputs were all set
// are then confirmed in a second transaction. stored is false only when the
// toggles themselves could not be stored. Caller holds b.mu.
func (b *Bridge) applyTransitionsLocked(ctx context.Context, transitions []state.Transition) (stored bool, err error) {
	var toggled []device.LogicalDevice
	for _, t := range transitions {
		devices := b.registry.DevicesForInput(t.Channel)
		if len(devices) == 0 {
			b.logger.Debug("input changed with no device bound",
				"endpoint", b.endpoint.ID, "channel", t.Channel, "value", t.To)
			continue
		}
		toggled = append(toggled, devices...)
	}
	if len(toggled) == 0 {
		return true, nil
	}

	changes := make([]device.StateChange, 0, len(toggled))
	for i := range toggled {
		next := !toggled[i].LogicalState
		toggled[i].LogicalState = next
		changes = append(changes, device.StateChange{
			DeviceID:     toggled[i].ID,
			LogicalState: next,
			Pending:      device.BoolPtr(next),
			Source:       device.SourceInput,
		})
	}
	if err := b.registry.ApplyStates(ctx, changes); err != nil {
		b.logger.Error("failed to persist input toggles, outputs left unchanged",
			"endpoint", b.endpoint.ID, "devices", len(changes), "error", err)
		return false, err
	}
	for _, d := range toggled {
		delete(b.abandoned, d.ID)
	}

	var lastErr error
	confirmed := make([]device.StateChange, 0, len(toggled))
	for _, d := range toggled {
		b.logger.Info("input toggled device",
			"endpoint", b.endpoint.ID, "device", d.ID, "input", d.InputChannel, "state", d.LogicalState)

		if err := b.setOutputsLocked(ctx, d.OutputChannels, d.LogicalState); err != nil {
			b.logger.Warn("actuation failed, intent kept for retry",
				"endpoint", b.endpoint.ID, "device", d.ID, "error", err)
			lastErr = err
			continue
		}
		confirmed = append(confirmed, device.StateChange{DeviceID: d.ID, LogicalState: d.LogicalState})
	}

	if err := b.registry.ApplyStates(ctx, confirmed); err != nil {
		b.logger.Error("failed to confirm actuation",
			"endpoint", b.endpoint.ID, "devices", len(confirmed), "error", err)
		return true, err
	}
	return true, lastErr
}
