package speech

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the speech orchestration logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("speech")
}
