// Package logging provides structured logging for the greenhouse processes.
//
// It wraps log/slog so the dashboard bridge, data logger and edge node all
// emit the same shape of record: JSON in production, text for local work,
// with "service" and "version" attached to every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// LOG_LEVEL and LOG_FORMAT override the file values.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "dashboard", version)
//	logger.Info("listening", "address", addr)
//	logger.Error("publish failed", "topic", topic, "error", err)
//
// Never log broker passwords or the InfluxDB token.
package logging
