package sinks

import (
	"context"
	"errors"

	"github.com/nerrad567/ipx800-bridge/internal/hub"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Source is an endpoint whose snapshots a sink can follow.
type Source interface {
	ID() string
	Hub() *hub.Hub
}

// Logger defines the logging interface used by the sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// follow calls fn for every snapshot published by src until ctx is done or
// the hub closes. A subscription dropped for backpressure is renewed.
func follow(ctx context.Context, src Source, logger Logger, fn func(state.Canonical)) {
	h := src.Hub()
	for {
		sub := h.Subscribe()
		err := drain(ctx, sub, fn)
		h.Unsubscribe(sub)

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, hub.ErrConsumerBackpressure):
			logger.Warn("sink fell behind, resubscribing", "endpoint", src.ID())
		default:
			logger.Debug("sink subscription ended", "endpoint", src.ID(), "reason", err)
			return
		}
	}
}

// drain delivers snapshots until the subscription ends or ctx is done.
// It returns the subscription's end reason.
func drain(ctx context.Context, sub *hub.Subscription, fn func(state.Canonical)) error {
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			fn(snap)
		case <-sub.Done():
			return sub.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
