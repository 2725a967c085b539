package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/hub"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Controller is the physical device the bridge polls and drives.
// *ipx800.Client satisfies it.
type Controller interface {
	// FetchStatus returns the channels currently reported by the device.
	FetchStatus(ctx context.Context) (state.Raw, error)

	// SetOutputs drives every channel to desired. On partial failure it
	// returns an error from which ipx800.FailedChannels can extract the
	// channels that were not set.
	SetOutputs(ctx context.Context, channels []string, desired bool) error
}

// Registry is the subset of *device.Registry the bridge uses.
type Registry interface {
	ListDevices() []device.LogicalDevice
	GetDevice(id string) (*device.LogicalDevice, error)
	DevicesForInput(channel string) []device.LogicalDevice
	PendingDevices() []device.LogicalDevice
	ApplyStates(ctx context.Context, changes []device.StateChange) error
	AddDevice(ctx context.Context, def device.Definition) (*device.LogicalDevice, error)
	RemoveDevice(ctx context.Context, id string) error
	RenameDevice(ctx context.Context, id, name string) (*device.LogicalDevice, error)
	History(ctx context.Context, id string, limit int) ([]device.HistoryEntry, error)
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the dependencies of a Bridge.
type Options struct {
	// Endpoint is the endpoint configuration (ID, poll interval, trigger).
	Endpoint config.EndpointConfig

	// Controller talks to the physical device.
	Controller Controller

	// Registry is the endpoint's logical device registry.
	Registry Registry

	// Hub receives every snapshot. Created with the websocket buffer size
	// when nil.
	Hub *hub.Hub

	// Logger is optional.
	Logger Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Bridge coordinates one endpoint. Create with New, then call Run.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	endpoint config.EndpointConfig
	ctrl     Controller
	registry Registry
	hub      *hub.Hub
	logger   Logger
	now      func() time.Time

	// mu serialises registry mutations, actuation and raw state updates.
	mu  sync.Mutex
	raw state.Raw
	seq uint64
	// abandoned holds devices whose failed command intent could not be
	// cleared. Recovery clears these instead of driving them.
	abandoned map[string]bool

	healthMu sync.RWMutex
	health   Health
}

// New creates a bridge and publishes an initial snapshot built from the
// registry, so the first consumer already sees every logical device.
func New(opts Options) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Endpoint.ID == "" {
		return nil, fmt.Errorf("endpoint id is required")
	}

	b := &Bridge{
		endpoint: opts.Endpoint,
		ctrl:     opts.Controller,
		registry: opts.Registry,
		hub:      opts.Hub,
		logger:   opts.Logger,
		now:      opts.Now,
		raw:      state.NewRaw(),

		abandoned: make(map[string]bool),
	}
	if b.hub == nil {
		b.hub = hub.New(opts.Endpoint.ID, hub.DefaultBuffer)
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.health.Endpoint = opts.Endpoint.ID

	b.mu.Lock()
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.hub.Publish(snap)

	return b, nil
}

// ID returns the endpoint ID.
func (b *Bridge) ID() string {
	return b.endpoint.ID
}

// Endpoint returns the endpoint configuration.
func (b *Bridge) Endpoint() config.EndpointConfig {
	return b.endpoint
}

// Hub returns the endpoint's broadcast hub.
func (b *Bridge) Hub() *hub.Hub {
	return b.hub
}

// Snapshot returns the most recently published canonical state.
func (b *Bridge) Snapshot() state.Canonical {
	snap, _ := b.hub.Latest()
	return snap.Clone()
}

// Devices returns every logical device in registration order.
func (b *Bridge) Devices() []device.LogicalDevice {
	return b.registry.ListDevices()
}

// Device returns one logical device.
func (b *Bridge) Device(id string) (*device.LogicalDevice, error) {
	return b.registry.GetDevice(id)
}

// History returns recent logical state changes of a device.
func (b *Bridge) History(ctx context.Context, id string, limit int) ([]device.HistoryEntry, error) {
	return b.registry.History(ctx, id, limit)
}

// Run polls the controller until ctx is cancelled.
//
// It first re-drives any actuation intents left from a previous run, then
// polls immediately and every PollInterval after that. Consecutive failures
// stretch the delay exponentially up to MaxBackoff; the first success
// restores the normal interval. A failing poll is logged and never ends
// the loop.
//
// Returns:
//   - error: Always nil; cancellation is a normal shutdown
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge starting",
		"endpoint", b.endpoint.ID,
		"address", b.endpoint.Address,
		"poll_interval", b.endpoint.PollInterval,
		"trigger", b.endpoint.Trigger)

	b.RecoverPending(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopped", "endpoint", b.endpoint.ID)
			return nil
		case <-timer.C:
		}

		err := b.safePoll(ctx)
		if ctx.Err() != nil {
			continue
		}
		timer.Reset(b.nextDelay(err))
	}
}

// safePoll runs one poll cycle and converts a panic into an error so the
// loop survives bugs in a single cycle.
func (b *Bridge) safePoll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
			b.logger.Error("poll cycle panicked", "endpoint", b.endpoint.ID, "panic", r)
			b.recordPollFailure(err)
		}
	}()
	return b.PollOnce(ctx)
}

// PollOnce fetches the status document once and ingests it.
//
// A failed fetch leaves the last snapshot untouched and is invisible to
// consumers.
func (b *Bridge) PollOnce(ctx context.Context) error {
	raw, err := b.ctrl.FetchStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.recordPollFailure(err)
			b.logger.Warn("poll failed", "endpoint", b.endpoint.ID, "error", err)
		}
		return err
	}
	b.recordPollSuccess()
	return b.Ingest(ctx, raw)
}

// nextDelay returns the wait before the next poll.
func (b *Bridge) nextDelay(pollErr error) time.Duration {
	interval := b.endpoint.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	if pollErr == nil {
		return interval
	}

	maxBackoff := b.endpoint.MaxBackoff
	if maxBackoff < interval {
		maxBackoff = interval
	}

	b.healthMu.RLock()
	failures := b.health.ConsecutiveFailures
	b.healthMu.RUnlock()

	delay := interval
	for i := 1; i < failures && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// snapshotLocked builds the next canonical snapshot. Caller holds b.mu.
func (b *Bridge) snapshotLocked() state.Canonical {
	b.seq++

	devices := b.registry.ListDevices()
	views := make([]state.Device, 0, len(devices))
	for i := range devices {
		views = append(views, devices[i].View())
	}

	raw := b.raw.Clone()
	return state.Canonical{
		Endpoint:  b.endpoint.ID,
		Seq:       b.seq,
		Timestamp: b.now().UTC(),
		Inputs:    raw.Inputs,
		Outputs:   raw.Outputs,
		Devices:   views,
	}
}

// setOutputsLocked drives channels and records the new raw value of every
// channel that succeeded. Caller holds b.mu.
func (b *Bridge) setOutputsLocked(ctx context.Context, channels []string, desired bool) error {
	if len(channels) == 0 {
		return nil
	}

	err := b.ctrl.SetOutputs(ctx, channels, desired)

	failed := make(map[string]bool)
	if err != nil {
		chs := ipx800.FailedChannels(err)
		if chs == nil {
			// Nothing was attempted (validation) or the failure is not per-channel.
			return err
		}
		for _, ch := range chs {
			failed[ch] = true
		}
	}
	for _, ch := range channels {
		if !failed[ch] {
			b.raw.Outputs[ch] = desired
		}
	}
	return err
}
