package recognizer

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the recognizer logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("recognizer")
}
