// Package logging provides structured logging for the IPX800 bridge.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text when a human is reading the console, and always with
// the service and version fields attached.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	epLog := logger.ForEndpoint("bridge", "garage")
//	epLog.Warn("poll failed", "error", err)
//
// Never log secrets such as the MQTT password, InfluxDB token or JWT secret.
package logging
