package modelrepo

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

const osCreateTrunc = os.O_CREATE | os.O_WRONLY | os.O_TRUNC

// ZipSource extracts a model stored under an entry prefix of a zip archive.
// An empty entry means the archive root.
type ZipSource struct {
	fs      afero.Fs
	archive string
	entry   string
	name    string
}

// NewZipSource opens the archive at archivePath on fs. It fails with a
// not-found error if the archive does not exist.
func NewZipSource(fs afero.Fs, archivePath, entry string) (*ZipSource, error) {
	if archivePath == "" {
		return nil, errors.Newf("zip archive path is empty").
			Component("modelrepo").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if ok, err := afero.Exists(fs, archivePath); err != nil || !ok {
		return nil, errors.Newf("zip archive %s does not exist", archivePath).
			Component("modelrepo").
			Category(errors.CategoryNotFound).
			FileContext(archivePath, "open_archive").
			Build()
	}

	entry = NormalizeEntry(entry)
	name := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	if entry != "" {
		name = path.Base(strings.TrimSuffix(entry, "/"))
	}

	return &ZipSource{fs: fs, archive: archivePath, entry: entry, name: name}, nil
}

// NormalizeEntry converts an archive entry to the canonical "dir/sub/" form:
// forward slashes, no leading slash, one trailing slash. The archive root is
// the empty string.
func NormalizeEntry(entry string) string {
	entry = strings.ReplaceAll(entry, `\`, "/")
	entry = strings.Trim(entry, "/")
	if entry == "" || entry == "." {
		return ""
	}
	return entry + "/"
}

// SuggestedName returns the entry's last element, or the archive name without
// extension for the archive root.
func (z *ZipSource) SuggestedName() string {
	return z.name
}

// SaveTo extracts every file under the entry prefix into dir. Entries that
// would escape dir are rejected.
func (z *ZipSource) SaveTo(ctx context.Context, fs afero.Fs, dir string) error {
	return z.withArchive(func(r *zip.Reader) error {
		extracted := 0
		for _, f := range r.File {
			if err := ctx.Err(); err != nil {
				return err
			}
			if strings.HasSuffix(f.Name, "/") || !strings.HasPrefix(f.Name, z.entry) {
				continue
			}

			rel := strings.TrimPrefix(f.Name, z.entry)
			if !filepath.IsLocal(filepath.FromSlash(rel)) {
				return errors.Newf("archive entry %q escapes the model directory", f.Name).
					Component("modelrepo").
					Category(errors.CategoryInvalidFormat).
					FileContext(z.archive, "extract_entry").
					Build()
			}

			if err := extractFile(f, fs, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
				return err
			}
			extracted++
		}

		if extracted == 0 {
			return errors.Newf("archive %s has no files under %q", z.archive, z.entry).
				Component("modelrepo").
				Category(errors.CategoryNotFound).
				FileContext(z.archive, "extract").
				Build()
		}
		GetLogger().Debug("archive extracted",
			logger.String("archive", z.archive),
			logger.String("entry", z.entry),
			logger.Int("files", extracted))
		return nil
	})
}

// EntryModTime returns the modification time of entry: the directory record
// itself when the archive has one, otherwise the newest file beneath it.
func (z *ZipSource) EntryModTime(entry string) (time.Time, bool, error) {
	entry = NormalizeEntry(entry)

	var (
		newest time.Time
		found  bool
	)
	err := z.withArchive(func(r *zip.Reader) error {
		for _, f := range r.File {
			if entry != "" && f.Name == entry {
				newest, found = f.Modified, true
				return nil
			}
			if strings.HasPrefix(f.Name, entry) && !strings.HasSuffix(f.Name, "/") {
				if !found || f.Modified.After(newest) {
					newest = f.Modified
				}
				found = true
			}
		}
		return nil
	})
	return newest, found, err
}

func (z *ZipSource) withArchive(fn func(*zip.Reader) error) error {
	file, err := z.fs.Open(z.archive)
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(z.archive, "open_archive").
			Build()
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(z.archive, "stat_archive").
			Build()
	}

	r, err := zip.NewReader(file, info.Size())
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidFormat).
			FileContext(z.archive, "read_archive").
			Build()
	}
	return fn(r)
}

func extractFile(f *zip.File, fs afero.Fs, dest string) error {
	if err := fs.MkdirAll(filepath.Dir(dest), dirPermissions); err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(filepath.Dir(dest), "create_directory").
			Build()
	}

	src, err := f.Open()
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryInvalidFormat).
			Context("entry", f.Name).
			Build()
	}
	defer src.Close()

	// OpenFile with O_TRUNC overwrites a previous extraction in place.
	out, err := fs.OpenFile(dest, osCreateTrunc, filePermissions)
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(dest, "create_file").
			Build()
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(dest, "write_file").
			Build()
	}
	if err := out.Close(); err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(dest, "close_file").
			Build()
	}
	return nil
}
