// Package logging provides structured logging for the Gray Logic node agent.
//
// This package wraps go.uber.org/zap to provide consistent, structured
// key/value logging across the application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Console text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Standard library loggers for third-party packages (see StdLog)
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connecting to MQTT broker", "server", "10.0.0.5:1883")
//	logger.Error("publish failed", "topic", topic, "error", err)
//
// Never log MQTT or InfluxDB credentials.
package logging
