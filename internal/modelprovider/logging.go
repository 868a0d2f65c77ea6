package modelprovider

import "github.com/c43892/storyteller/internal/logger"

// GetLogger returns the model provider logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("modelprovider")
}
