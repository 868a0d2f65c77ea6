package modelrepo

import (
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/httpclient"
)

func TestNormalizeEntry(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                 "",
		"/":                "",
		".":                "",
		"models/en":        "models/en/",
		"/models/en/":      "models/en/",
		`models\en`:        "models/en/",
		`\models\en\small`: "models/en/small/",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeEntry(in), "entry %q", in)
	}
}

func TestZipSourceSuggestedName(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/vosk-model-small-en.zip", []byte("x"), 0o644))

	root, err := NewZipSource(fs, "/in/vosk-model-small-en.zip", "/")
	require.NoError(t, err)
	assert.Equal(t, "vosk-model-small-en", root.SuggestedName())

	nested, err := NewZipSource(fs, "/in/vosk-model-small-en.zip", `models\en-us\`)
	require.NoError(t, err)
	assert.Equal(t, "en-us", nested.SuggestedName())

	_, err = NewZipSource(fs, "/in/missing.zip", "")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestZipSourceExtractsOnlyEntry(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/bundle.zip", modelArchive(t, time.Now()), 0o644))

	// A stale file from an earlier extraction is overwritten.
	writeFiles(t, fs, "/out", map[string]string{"am/final.mdl": "stale content that is longer"})

	src, err := NewZipSource(fs, "/in/bundle.zip", "models/en-us")
	require.NoError(t, err)
	require.NoError(t, src.SaveTo(t.Context(), fs, "/out"))

	data, err := afero.ReadFile(fs, "/out/am/final.mdl")
	require.NoError(t, err)
	assert.Equal(t, "english", string(data))

	exists, _ := afero.Exists(fs, "/out/final.mdl")
	assert.False(t, exists, "files of other entries must not be extracted")
	exists, _ = afero.Exists(fs, "/out/README.txt")
	assert.False(t, exists)
}

func TestZipSourceRejectsEscapingEntries(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/evil.zip", buildZip(t, []zipEntry{
		{name: "../../etc/passwd", content: "root"},
	}), 0o644))

	src, err := NewZipSource(fs, "/in/evil.zip", "")
	require.NoError(t, err)
	err = src.SaveTo(t.Context(), fs, "/out")
	assert.ErrorIs(t, err, errors.ErrInvalidFormat)

	exists, _ := afero.Exists(fs, "/etc/passwd")
	assert.False(t, exists)
}

func TestZipSourceMissingEntry(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/bundle.zip", modelArchive(t, time.Now()), 0o644))

	src, err := NewZipSource(fs, "/in/bundle.zip", "models/fr")
	require.NoError(t, err)
	assert.ErrorIs(t, src.SaveTo(t.Context(), fs, "/out"), errors.ErrNotFound)
}

func TestZipSourceCorruptArchive(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/bad.zip", []byte("definitely not a zip"), 0o644))

	src, err := NewZipSource(fs, "/in/bad.zip", "")
	require.NoError(t, err)
	assert.ErrorIs(t, src.SaveTo(t.Context(), fs, "/out"), errors.ErrInvalidFormat)
}

func TestZipSourceEntryModTime(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	mtime := time.Date(2023, 11, 5, 10, 30, 0, 0, time.UTC)
	require.NoError(t, afero.WriteFile(fs, "/in/bundle.zip", modelArchive(t, mtime), 0o644))

	src, err := NewZipSource(fs, "/in/bundle.zip", "")
	require.NoError(t, err)

	got, ok, err := src.EntryModTime("models/en-us")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(mtime), "got %v", got)

	got, ok, err = src.EntryModTime("/models/de/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(mtime.Add(time.Hour)))

	_, ok, err = src.EntryModTime("models/fr")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirSourceCopiesTree(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeVersionedModel(t, fs, "/media/vosk-de")

	src, err := NewDirSource(fs, "/media/vosk-de")
	require.NoError(t, err)
	assert.Equal(t, "vosk-de", src.SuggestedName())

	require.NoError(t, src.SaveTo(t.Context(), fs, "/models/copy"))
	assert.True(t, ContainsValidModelFiles(fs, "/models/copy"))

	data, err := afero.ReadFile(fs, "/models/copy/graph/HCLr.fst")
	require.NoError(t, err)
	assert.Equal(t, "graph", string(data))

	_, err = NewDirSource(fs, "/media/none")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestHTTPSourceInstall(t *testing.T) {
	t.Parallel()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://models.example.com/files/bundle.zip",
		httpmock.NewBytesResponder(http.StatusOK, modelArchive(t, time.Now())))
	transport.RegisterResponder(http.MethodGet, "https://models.example.com/files/gone.zip",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	client := httpclient.New(&httpclient.Config{Transport: transport})
	t.Cleanup(client.Close)

	fs, repo := openMem(t)

	src, err := NewHTTPSource(client, "https://models.example.com/files/bundle.zip", "models/de")
	require.NoError(t, err)
	assert.Equal(t, "de", src.SuggestedName())

	info, err := repo.InstallModel(t.Context(), src)
	require.NoError(t, err)
	assert.Equal(t, "/models/de", info.Path)
	assert.True(t, ContainsValidModelFiles(fs, info.Path))

	gone, err := NewHTTPSource(client, "https://models.example.com/files/gone.zip", "")
	require.NoError(t, err)
	assert.Equal(t, "gone", gone.SuggestedName())
	_, err = repo.InstallModel(t.Context(), gone)
	require.Error(t, err)
	assert.Len(t, repo.Models(), 1)

	_, err = NewHTTPSource(client, "ftp://models.example.com/x.zip", "")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}
