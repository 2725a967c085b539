package bridge

import (
	"context"
	"time"

	"github.com/shimmeringbee/retry"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Startup recovery attempts before the intents are left to the poll loop.
const (
	RecoveryAttemptTimeout = 10 * time.Second
	RecoveryRetries        = 3
)

// RecoverPending re-drives every actuation intent left unconfirmed by a
// failed actuation or a crash, retrying a few times before giving up. Intents
// that still fail stay pending and are retried on later poll cycles.
//
// Re-driving is idempotent: outputs are set to the intended value whatever
// their current state.
func (b *Bridge) RecoverPending(ctx context.Context) {
	pending := b.registry.PendingDevices()
	if len(pending) == 0 {
		return
	}
	b.logger.Info("recovering unconfirmed actuations", "endpoint", b.endpoint.ID, "devices", len(pending))

	err := retry.Retry(ctx, RecoveryAttemptTimeout, RecoveryRetries, func(ctx context.Context) error {
		snap, err := b.recoverOnce(ctx)
		b.hub.Publish(snap)
		return err
	})
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("unconfirmed actuations remain, retrying on next poll",
			"endpoint", b.endpoint.ID, "pending", len(b.registry.PendingDevices()), "error", err)
	}
}

func (b *Bridge) recoverOnce(ctx context.Context) (state.Canonical, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.redrivePendingLocked(ctx, nil)
	return b.snapshotLocked(), err
}

// redrivePendingLocked drives the outputs of every pending device not bound
// to one of skip's inputs, then commits the intent as the logical state.
// Intents of abandoned commands are cleared without driving anything.
// Caller holds b.mu.
func (b *Bridge) redrivePendingLocked(ctx context.Context, skip []state.Transition) error {
	pending := b.registry.PendingDevices()
	if len(pending) == 0 {
		return nil
	}

	skipped := make(map[string]bool, len(skip))
	for _, t := range skip {
		skipped[t.Channel] = true
	}

	var (
		lastErr error
		cleared []string
	)
	confirmed := make([]device.StateChange, 0, len(pending))
	for _, d := range pending {
		if b.abandoned[d.ID] {
			confirmed = append(confirmed, device.StateChange{DeviceID: d.ID, LogicalState: d.LogicalState})
			cleared = append(cleared, d.ID)
			b.logger.Info("abandoned actuation intent cleared", "endpoint", b.endpoint.ID, "device", d.ID)
			continue
		}
		if d.InputChannel != "" && skipped[d.InputChannel] {
			continue
		}
		desired := *d.PendingState
		if err := b.setOutputsLocked(ctx, d.OutputChannels, desired); err != nil {
			b.logger.Debug("re-actuation failed", "endpoint", b.endpoint.ID, "device", d.ID, "error", err)
			lastErr = err
			continue
		}

		change := device.StateChange{DeviceID: d.ID, LogicalState: desired}
		if desired != d.LogicalState {
			change.Source = device.SourceRecovery
		}
		confirmed = append(confirmed, change)
		b.logger.Info("unconfirmed actuation recovered", "endpoint", b.endpoint.ID, "device", d.ID, "state", desired)
	}

	if err := b.registry.ApplyStates(ctx, confirmed); err != nil {
		return err
	}
	for _, id := range cleared {
		delete(b.abandoned, id)
	}
	return lastErr
}
