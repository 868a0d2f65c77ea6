package modelrepo

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// writeFlatModel creates a model directory with the flat layout.
func writeFlatModel(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	writeFiles(t, fs, dir, map[string]string{
		"final.mdl": "acoustic model",
		"mfcc.conf": "--sample-frequency=16000",
	})
}

// writeVersionedModel creates a model directory with the am/ conf/ layout.
func writeVersionedModel(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	writeFiles(t, fs, dir, map[string]string{
		"am/final.mdl":   "acoustic model",
		"conf/mfcc.conf": "--sample-frequency=16000",
		"graph/HCLr.fst": "graph",
	})
}

func writeFiles(t *testing.T, fs afero.Fs, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0o644))
	}
}

type zipEntry struct {
	name     string
	content  string
	modified time.Time
}

// buildZip returns an archive holding entries in order. Names ending in "/"
// become directory records.
func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: e.modified}
		f, err := w.CreateHeader(hdr)
		require.NoError(t, err)
		if e.content != "" {
			_, err = f.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func modelArchive(t *testing.T, mtime time.Time) []byte {
	t.Helper()
	return buildZip(t, []zipEntry{
		{name: "models/", modified: mtime},
		{name: "models/en-us/", modified: mtime},
		{name: "models/en-us/am/final.mdl", content: "english", modified: mtime},
		{name: "models/en-us/conf/mfcc.conf", content: "conf", modified: mtime},
		{name: "models/de/", modified: mtime.Add(time.Hour)},
		{name: "models/de/final.mdl", content: "deutsch", modified: mtime.Add(time.Hour)},
		{name: "models/de/mfcc.conf", content: "conf", modified: mtime.Add(time.Hour)},
		{name: "README.txt", content: "readme", modified: mtime},
	})
}
