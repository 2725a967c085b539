package sinks

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// PointWriter is the subset of the InfluxDB client used by Telemetry.
type PointWriter interface {
	WriteChannel(endpoint, channel string, value bool, ts time.Time)
	WriteDevice(endpoint string, d state.Device, ts time.Time)
}

// Telemetry writes a time series of channel values and device states.
//
// The first snapshot of an endpoint is written in full; after that only
// channels and devices whose value changed produce points.
type Telemetry struct {
	writer  PointWriter
	sources []Source
	logger  Logger

	mu   sync.Mutex
	last map[string]state.Canonical
}

// NewTelemetry creates a telemetry sink for the given endpoints.
func NewTelemetry(writer PointWriter, sources ...Source) *Telemetry {
	return &Telemetry{
		writer:  writer,
		sources: sources,
		logger:  noopLogger{},
		last:    make(map[string]state.Canonical),
	}
}

// SetLogger sets the logger. A nil logger disables logging.
func (t *Telemetry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// Run records snapshots until ctx is cancelled.
func (t *Telemetry) Run(ctx context.Context) error {
	t.logger.Info("telemetry started", "endpoints", len(t.sources))

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range t.sources {
		src := src
		g.Go(func() error {
			follow(gctx, src, t.logger, t.Record)
			return nil
		})
	}
	return g.Wait()
}

// Record writes the points for one snapshot.
func (t *Telemetry) Record(snap state.Canonical) {
	t.mu.Lock()
	prev, seen := t.last[snap.Endpoint]
	if seen && snap.Seq <= prev.Seq {
		// Replayed after a resubscribe.
		t.mu.Unlock()
		return
	}
	t.last[snap.Endpoint] = snap
	t.mu.Unlock()

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	writeChannels := func(current, before map[string]bool) {
		for ch, v := range current {
			if old, ok := before[ch]; seen && ok && old == v {
				continue
			}
			t.writer.WriteChannel(snap.Endpoint, ch, v, ts)
		}
	}
	writeChannels(snap.Inputs, prev.Inputs)
	writeChannels(snap.Outputs, prev.Outputs)

	for _, d := range snap.Devices {
		if old, ok := prev.Device(d.ID); seen && ok && old.LogicalState == d.LogicalState && old.Pending == d.Pending {
			continue
		}
		t.writer.WriteDevice(snap.Endpoint, d, ts)
	}
}
