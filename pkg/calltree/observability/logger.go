// Package observability provides logging, metrics and tracing hooks for
// the call-tree recorder.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Local spans via OpenTelemetry (no cross-process propagation)
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds chain context to a logger.
// Returns a new logger with chain and chain_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "checkout", chain.ID())
//	enriched.Info("recording") // includes chain, chain_id
func EnrichLogger(logger *slog.Logger, chain, chainID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("chain", chain),
		slog.String("chain_id", chainID),
	)
}

// LogCallStart logs the start of a recorded call.
func LogCallStart(logger *slog.Logger, function string, depth int) {
	if logger == nil {
		return
	}
	logger.Debug("call starting",
		slog.String("function", function),
		slog.Int("depth", depth),
	)
}

// LogCallComplete logs successful completion of a recorded call.
func LogCallComplete(logger *slog.Logger, function string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("call completed",
		slog.String("function", function),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCallError logs a recorded call that returned an error or panicked.
// The error is captured in the record; this is informational.
func LogCallError(logger *slog.Logger, function string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Warn("call failed",
		slog.String("function", function),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCheckpoint logs a checkpoint.
func LogCheckpoint(logger *slog.Logger, index, offset int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint taken",
		slog.Int("checkpoint", index),
		slog.Int("offset", offset),
	)
}

// LogRestore logs a restore and how many top-level records it dropped.
func LogRestore(logger *slog.Logger, index, dropped int) {
	if logger == nil {
		return
	}
	logger.Info("chain restored",
		slog.Int("checkpoint", index),
		slog.Int("dropped", dropped),
	)
}

// LogPersist logs a successful write through the chain's strategy.
func LogPersist(logger *slog.Logger, strategy string, records int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("chain persisted",
		slog.String("strategy", strategy),
		slog.Int("records", records),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPersistError logs a failed write.
func LogPersistError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("persist failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
