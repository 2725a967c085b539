// Package api implements the HTTP REST API and WebSocket consumer channel of
// the IPX800 bridge.
//
// This package provides:
//   - REST endpoints for endpoints, snapshots, devices, outputs and history
//   - a WebSocket channel per endpoint streaming canonical state and
//     accepting commands
//   - an inbound push endpoint taking the controller's status XML
//   - optional JWT bearer authentication
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/endpoints
//	GET    /api/v1/endpoints/{endpoint}
//	GET    /api/v1/endpoints/{endpoint}/snapshot
//	POST   /api/v1/endpoints/{endpoint}/push
//	PUT    /api/v1/endpoints/{endpoint}/outputs
//	GET    /api/v1/endpoints/{endpoint}/devices
//	POST   /api/v1/endpoints/{endpoint}/devices
//	GET    /api/v1/endpoints/{endpoint}/devices/{id}
//	PATCH  /api/v1/endpoints/{endpoint}/devices/{id}
//	DELETE /api/v1/endpoints/{endpoint}/devices/{id}
//	PUT    /api/v1/endpoints/{endpoint}/devices/{id}/state
//	GET    /api/v1/endpoints/{endpoint}/devices/{id}/history
//	GET    /api/v1/endpoints/{endpoint}/ws
//
// # WebSocket
//
// The first message on a new connection is {"type":"snapshot"} carrying the
// full canonical state; every later change arrives as {"type":"state"}.
// Commands use the message format of package bridge and are answered with
// {"type":"response"} or {"type":"error"}, echoing the request id. A consumer
// that cannot keep up is disconnected with close code 1008.
//
// # Security
//
// When security.jwt.secret is set every route except /health requires an
// HS256 bearer token, passed in the Authorization header or as ?token= on
// the WebSocket URL.
package api
