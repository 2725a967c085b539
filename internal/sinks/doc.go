// Package sinks forwards endpoint state to secondary consumers.
//
// Each sink subscribes to the broadcast hub of every endpoint, exactly like
// a WebSocket consumer, so a slow or unavailable sink never delays the poll
// loop. A sink dropped for backpressure resubscribes and resumes from the
// latest snapshot.
//
//   - Mirror: retained state and a command channel on MQTT
//   - Telemetry: channel and device time series in InfluxDB
package sinks
