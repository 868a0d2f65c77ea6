package modelrepo

import (
	"context"

	"github.com/spf13/afero"
)

// Source provides the files of a model.
type Source interface {
	// SuggestedName returns a directory name for the model, or "" to let the
	// repository choose.
	SuggestedName() string
	// SaveTo writes the model files into dir on fs, creating intermediate
	// directories and overwriting existing files.
	SaveTo(ctx context.Context, fs afero.Fs, dir string) error
}
