// Package ipx800 talks to an IPX800 v1 relay controller over HTTP.
//
// The controller exposes two things we care about:
//
//   - A status document (GET /status.xml) listing every input as btnN with
//     the value "up" or "dn" and every output as ledN with 0 or 1.
//   - An actuation endpoint taking one output per request
//     (GET /preset.htm?led3=1 on stock firmware; the path is configurable).
//
// Parsing is tolerant: unknown elements are skipped and channels whose value
// cannot be read are left out, so the caller keeps the previous value for
// them. A document that is not XML, or that contains no channel at all, is
// rejected with ErrMalformedResponse.
//
// Errors:
//   - ErrTransientIO: network failure, timeout or non-200 status
//   - ErrMalformedResponse: the status body could not be used
//   - *ActuationError: one or more outputs could not be set; matches
//     ErrActuationFailed with errors.Is
package ipx800
