package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Durations above which timed work is logged at warn level.
const (
	SlowOperationThreshold = 30 * time.Second
	SlowQueryThreshold     = 5 * time.Second
)

// OperationTimer returns a func that logs how long the operation took.
//
// Usage:
//
//	defer utils.OperationTimer("recompute_portfolio", log)()
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		elapsed := time.Since(start)
		event := log.Debug()
		if elapsed > SlowOperationThreshold {
			event = log.Warn()
		}
		event.
			Str("operation", operation).
			Dur("elapsed", elapsed).
			Msg("Operation finished")
	}
}

// MeasureDBQuery logs the duration and affected rows of a repository write.
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rowsAffected int64) {
	start := time.Now()

	return func(rowsAffected int64) {
		elapsed := time.Since(start)
		event := log.Debug()
		if elapsed > SlowQueryThreshold {
			event = log.Warn()
		}
		event.
			Str("query", queryName).
			Dur("elapsed", elapsed).
			Int64("rows_affected", rowsAffected).
			Msg("Database query finished")
	}
}
