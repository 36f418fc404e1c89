// Package logging provides structured logging for the Siegenia bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the session client, the window
// bridge and the control API.
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
//	client, err := siegenia.New(siegenia.Options{Host: host, Logger: logger.Component("siegenia")})
//
// # Security
//
// Never log device passwords, login tokens or the JWT secret.
package logging
