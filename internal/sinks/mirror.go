package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Broker is the subset of the MQTT client used by the mirror.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Endpoint is a source that also accepts consumer commands.
type Endpoint interface {
	Source
	HandleMessage(ctx context.Context, data []byte) []byte
}

// Mirror publishes every endpoint snapshot as a retained message and
// executes commands received on MQTT.
//
// Topics (see mqtt.Topics):
//   - {prefix}/{endpoint}/state: canonical state JSON, retained
//   - {prefix}/{endpoint}/command: request messages, same shape as WebSocket
//   - {prefix}/{endpoint}/response: the reply to each command, not retained
type Mirror struct {
	broker    Broker
	topics    mqtt.Topics
	qos       byte
	endpoints []Endpoint
	logger    Logger
}

// NewMirror creates an MQTT mirror for the given endpoints.
func NewMirror(broker Broker, topics mqtt.Topics, qos byte, endpoints ...Endpoint) *Mirror {
	return &Mirror{
		broker:    broker,
		topics:    topics,
		qos:       qos,
		endpoints: endpoints,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. A nil logger disables logging.
func (m *Mirror) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Run subscribes to every command topic and mirrors state until ctx is
// cancelled. Command topics are unsubscribed on return.
//
// Returns:
//   - error: if a command topic cannot be subscribed; nil on cancellation
func (m *Mirror) Run(ctx context.Context) error {
	var subscribed []string
	defer func() {
		for _, topic := range subscribed {
			if err := m.broker.Unsubscribe(topic); err != nil {
				m.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
			}
		}
	}()

	for _, ep := range m.endpoints {
		topic := m.topics.EndpointCommand(ep.ID())
		if err := m.broker.Subscribe(topic, m.qos, m.commandHandler(ctx, ep)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		subscribed = append(subscribed, topic)
	}

	m.logger.Info("MQTT mirror started", "endpoints", len(m.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range m.endpoints {
		ep := ep
		g.Go(func() error {
			follow(gctx, ep, m.logger, func(snap state.Canonical) {
				m.publishState(ep.ID(), snap)
			})
			return nil
		})
	}
	return g.Wait()
}

// Republish sends the latest snapshot of every endpoint again. Used after
// a broker reconnect so the retained state is never stale.
func (m *Mirror) Republish() {
	for _, ep := range m.endpoints {
		if snap, ok := ep.Hub().Latest(); ok {
			m.publishState(ep.ID(), snap)
		}
	}
}

func (m *Mirror) publishState(endpoint string, snap state.Canonical) {
	payload, err := json.Marshal(snap)
	if err != nil {
		m.logger.Warn("encoding state failed", "endpoint", endpoint, "error", err)
		return
	}
	if err := m.broker.Publish(m.topics.EndpointState(endpoint), payload, m.qos, true); err != nil {
		m.logger.Warn("publishing state failed", "endpoint", endpoint, "seq", snap.Seq, "error", err)
	}
}

// commandHandler executes a command message and publishes the reply.
func (m *Mirror) commandHandler(ctx context.Context, ep Endpoint) mqtt.MessageHandler {
	responseTopic := m.topics.EndpointResponse(ep.ID())
	return func(_ string, payload []byte) error {
		reply := ep.HandleMessage(ctx, payload)
		if err := m.broker.Publish(responseTopic, reply, m.qos, false); err != nil {
			return fmt.Errorf("publishing response: %w", err)
		}
		return nil
	}
}
