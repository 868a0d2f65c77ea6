package modelrepo

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the model repository logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("modelrepo")
}
