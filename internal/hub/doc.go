// Package hub fans canonical state snapshots out to any number of consumers.
//
// One Hub exists per endpoint. The bridge publishes a snapshot after every
// successful poll and every actuation; WebSocket clients, the MQTT mirror
// and the telemetry writer each hold a Subscription.
//
// Delivery rules:
//   - Publish never blocks. Each subscription has a bounded queue; a
//     consumer whose queue is full is disconnected and its Err reports
//     ErrConsumerBackpressure.
//   - Each subscription sees snapshots in publish order. There is no
//     ordering between different subscriptions.
//   - The first snapshot a new subscription receives is the latest one
//     published, so consumers never start from an empty view.
//
// Snapshots are shared between subscribers and must be treated as read-only.
package hub
