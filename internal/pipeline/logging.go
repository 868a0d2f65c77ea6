package pipeline

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the pipeline logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("pipeline")
}
