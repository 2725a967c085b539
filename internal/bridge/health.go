package bridge

import "time"

// Health summarises the polling status of one endpoint.
type Health struct {
	Endpoint            string    `json:"endpoint"`
	LastPoll            time.Time `json:"lastPoll,omitempty"`
	LastSuccess         time.Time `json:"lastSuccess,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Devices             int       `json:"devices"`
	PendingIntents      int       `json:"pendingIntents"`
	Consumers           int       `json:"consumers"`
	DroppedConsumers    uint64    `json:"droppedConsumers"`
	Seq                 uint64    `json:"seq"`
}

// Healthy reports whether the last poll succeeded.
func (h Health) Healthy() bool {
	return !h.LastSuccess.IsZero() && h.ConsecutiveFailures == 0
}

// Health returns the current health of the endpoint.
func (b *Bridge) Health() Health {
	b.healthMu.RLock()
	h := b.health
	b.healthMu.RUnlock()

	h.Devices = len(b.registry.ListDevices())
	h.PendingIntents = len(b.registry.PendingDevices())
	h.Consumers = b.hub.Count()
	_, h.DroppedConsumers = b.hub.Stats()
	if snap, ok := b.hub.Latest(); ok {
		h.Seq = snap.Seq
	}
	return h
}

func (b *Bridge) recordPollSuccess() {
	now := b.now().UTC()
	b.healthMu.Lock()
	defer b.healthMu.Unlock()

	if b.health.ConsecutiveFailures > 0 {
		b.logger.Info("poll recovered", "endpoint", b.endpoint.ID,
			"after_failures", b.health.ConsecutiveFailures)
	}
	b.health.LastPoll = now
	b.health.LastSuccess = now
	b.health.LastError = ""
	b.health.ConsecutiveFailures = 0
}

func (b *Bridge) recordPollFailure(err error) {
	now := b.now().UTC()
	b.healthMu.Lock()
	defer b.healthMu.Unlock()

	b.health.LastPoll = now
	b.health.LastError = err.Error()
	b.health.ConsecutiveFailures++
}
