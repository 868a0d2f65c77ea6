package modelrepo

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/c43892/storyteller/internal/errors"
)

// DirSource copies a model directory tree, e.g. from removable media into the
// repository.
type DirSource struct {
	fs  afero.Fs
	dir string
}

// NewDirSource returns a source for the directory dir on fs.
func NewDirSource(fs afero.Fs, dir string) (*DirSource, error) {
	if !dirExists(fs, dir) {
		return nil, errors.Newf("model directory %s not found", dir).
			Component("modelrepo").
			Category(errors.CategoryNotFound).
			FileContext(dir, "open_source").
			Build()
	}
	return &DirSource{fs: fs, dir: dir}, nil
}

// SuggestedName returns the last element of the source directory.
func (d *DirSource) SuggestedName() string {
	return filepath.Base(d.dir)
}

// SaveTo copies every regular file below the source directory into dir.
func (d *DirSource) SaveTo(ctx context.Context, fs afero.Fs, dir string) error {
	return afero.Walk(d.fs, d.dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return errors.New(walkErr).
				Component("modelrepo").
				Category(errors.CategoryFileSystem).
				FileContext(path, "walk").
				Build()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(d.dir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, rel)

		if info.IsDir() {
			if err := fs.MkdirAll(dest, dirPermissions); err != nil {
				return errors.New(err).
					Component("modelrepo").
					Category(errors.CategoryFileSystem).
					FileContext(dest, "create_directory").
					Build()
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return d.copyFile(fs, path, dest)
	})
}

func (d *DirSource) copyFile(fs afero.Fs, src, dest string) error {
	in, err := d.fs.Open(src)
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(src, "open_file").
			Build()
	}
	defer in.Close()

	out, err := fs.OpenFile(dest, osCreateTrunc, filePermissions)
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(dest, "create_file").
			Build()
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(dest, "copy_file").
			Build()
	}
	return out.Close()
}
