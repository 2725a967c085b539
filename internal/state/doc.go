// Package state defines the canonical state model shared by the poller,
// the reconciliation engine and the broadcast hub.
//
// Two shapes live here:
//
//   - Raw: the boolean value of every physical channel as last reported by
//     the controller (inputs btn0..btnN, outputs led0..ledM). Never persisted.
//   - Canonical: the snapshot handed to consumers. It combines the raw
//     channels with the logical devices of one endpoint and carries a
//     monotonically increasing sequence number.
//
// Values of both types are copied whenever they cross a goroutine boundary;
// use Clone before handing one to another component.
package state
