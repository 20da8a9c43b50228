// Package logger builds the structured logger threaded through every
// subsystem of the engine — registry, partition, segment — as a
// *zap.SugaredLogger. One logger is created per host-process instance and
// tagged with the embedding service's name so multiple engines in the same
// process can be told apart in aggregated logs.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile zap logger scoped to service, returning
// its sugared form since every call site here logs key/value pairs rather
// than building zap.Field values by hand.
func New(service string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking the embedding
		// process over a logging misconfiguration.
		log = zap.NewNop()
	}

	return log.Sugar().With("service", service)
}

// NewDevelopment builds a human-readable logger for tests and local runs.
func NewDevelopment(service string) *zap.SugaredLogger {
	log, err := zap.NewDevelopment()
	if err != nil {
		log = zap.NewNop()
	}
	return log.Sugar().With("service", service)
}
