package modelrepo

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// Known model layouts. A directory is a model if every file of at least one
// layout is present.
var modelLayouts = [][]string{
	{"final.mdl", "mfcc.conf"},
	{filepath.Join("am", "final.mdl"), filepath.Join("conf", "mfcc.conf")},
}

// ContainsValidModelFiles reports whether dir holds a complete model layout.
// It only checks for existence and never modifies fs.
func ContainsValidModelFiles(fs afero.Fs, dir string) bool {
	for _, layout := range modelLayouts {
		if hasFiles(fs, dir, layout) {
			return true
		}
	}
	return false
}

func hasFiles(fs afero.Fs, dir string, files []string) bool {
	for _, f := range files {
		info, err := fs.Stat(filepath.Join(dir, f))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

func dirExists(fs afero.Fs, dir string) bool {
	ok, err := afero.DirExists(fs, dir)
	return err == nil && ok
}
