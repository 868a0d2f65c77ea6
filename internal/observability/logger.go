package observability

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the metrics endpoint logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
