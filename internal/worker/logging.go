package worker

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the worker logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("worker")
}
