// Package bridge keeps one IPX800 endpoint, its device registry and its
// consumers consistent.
//
// A Bridge owns, for one endpoint:
//   - the last raw channel state observed on the controller
//   - the logical device registry (persisted, see package device)
//   - the broadcast hub consumers subscribe to (see package hub)
//
// # Data flow
//
//	poll / push ──► Ingest ──► input transitions ──► toggle devices
//	                                                    │
//	                       persist intent ◄─────────────┘
//	                             │
//	                       actuate outputs ──► confirm ──► publish snapshot
//
// Consumer commands (Execute) go through the same lock and end with the
// same publish step.
//
// # Write ordering
//
// A toggle caused by an input is persisted together with a pending intent
// before any output is driven, and the intent is cleared once every output
// call succeeded. Intents left behind by a failed actuation or a crash are
// re-driven at startup and on later poll cycles.
//
// A consumer command records only the intent, drives the outputs and then
// commits the new logical state. If actuation fails the intent is dropped
// and the logical state stays as it was, so the caller sees the failure and
// nothing changes.
//
// # Concurrency
//
// Every registry mutation and every actuation of an endpoint happens under
// that endpoint's mutex. Snapshots are built under the lock and published
// after it is released, so a slow consumer can never stall the bridge.
package bridge
