package modelrepo

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/httpclient"
	"github.com/c43892/storyteller/internal/logger"
)

// HTTPSource downloads a zipped model and extracts it like ZipSource. The
// archive is staged in a temporary file on the destination filesystem.
type HTTPSource struct {
	client *httpclient.Client
	url    string
	entry  string
}

// NewHTTPSource returns a source for the zip archive at rawURL. entry selects
// a directory inside the archive, empty for the archive root.
func NewHTTPSource(client *httpclient.Client, rawURL, entry string) (*HTTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Newf("invalid model URL %q", rawURL).
			Component("modelrepo").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	return &HTTPSource{client: client, url: rawURL, entry: NormalizeEntry(entry)}, nil
}

// SuggestedName returns the entry's last element, or the archive file name
// without its extension.
func (h *HTTPSource) SuggestedName() string {
	if h.entry != "" {
		return path.Base(strings.TrimSuffix(h.entry, "/"))
	}
	u, err := url.Parse(h.url)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// SaveTo downloads the archive and extracts it into dir.
func (h *HTTPSource) SaveTo(ctx context.Context, fs afero.Fs, dir string) error {
	tmp, err := afero.TempFile(fs, "", "storyteller-model-*.zip")
	if err != nil {
		return errors.New(err).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			Context("operation", "create_temp_file").
			Build()
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := fs.Remove(tmpPath); err != nil {
			GetLogger().Debug("failed to remove staged archive",
				logger.String("path", tmpPath),
				logger.Error(err))
		}
	}()

	_, err = h.client.Download(ctx, h.url, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = errors.New(cerr).
			Component("modelrepo").
			Category(errors.CategoryFileSystem).
			FileContext(tmpPath, "close_temp_file").
			Build()
	}
	if err != nil {
		return err
	}

	zs, err := NewZipSource(fs, tmpPath, h.entry)
	if err != nil {
		return err
	}
	return zs.SaveTo(ctx, fs, dir)
}
