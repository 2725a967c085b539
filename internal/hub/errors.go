package hub

import "errors"

var (
	// ErrConsumerBackpressure is reported by a subscription that was dropped
	// because it did not keep up.
	ErrConsumerBackpressure = errors.New("hub: consumer too slow, disconnected")

	// ErrUnsubscribed is reported after Unsubscribe.
	ErrUnsubscribed = errors.New("hub: unsubscribed")

	// ErrHubClosed is reported by subscriptions still open when the hub closes.
	ErrHubClosed = errors.New("hub: closed")
)
