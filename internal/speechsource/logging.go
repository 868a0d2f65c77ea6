package speechsource

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the speech source logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("speechsource")
}
