//go:build !vosk

package recognizer

import (
	"github.com/c43892/storyteller/internal/errors"
)

// EngineAvailable reports whether this build links a recognition engine.
const EngineAvailable = false

// LoadModel fails in builds without the vosk tag. Rebuild with -tags vosk and
// libvosk installed to enable recognition.
func LoadModel(path string) (Model, error) {
	return nil, errors.Newf("speech engine not compiled in, rebuild with -tags vosk").
		Component("recognizer").
		Category(errors.CategoryEngineFailure).
		FileContext(path, "load_model").
		Build()
}
