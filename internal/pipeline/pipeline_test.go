package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/conf"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speechsource"
)

type stubModel struct{}

func (stubModel) NewEngine(recognizer.EngineConfig) (recognizer.Engine, error) {
	return nil, errors.NewStd("not used")
}

func (stubModel) Close() error { return nil }

type recordingLoader struct {
	mu    sync.Mutex
	paths []string
}

func (l *recordingLoader) load(path string) (recognizer.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, path)
	return stubModel{}, nil
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Models:      conf.ModelSettings{Dir: filepath.Join(t.TempDir(), "repo")},
		Recognition: conf.RecognitionSettings{Language: "en-US", TickInterval: 10 * time.Millisecond},
		Audio:       conf.AudioSettings{SampleRate: 16000, ChunkSize: 4096},
	}
}

// writeModel creates a directory that passes the model layout check.
func writeModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"final.mdl", "mfcc.conf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	return dir
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidArgument))
}

func TestLoadModelFromPath(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Models.ModelPath = "/models/en"

	p, err := New(settings)
	require.NoError(t, err)
	loader := &recordingLoader{}
	p.Loader = loader.load

	_, err = p.NewRecognizer(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	require.NoError(t, p.LoadModel(t.Context()))
	assert.Equal(t, []string{"/models/en"}, loader.paths)
	assert.Equal(t, "en-US", p.Language())

	err = p.LoadModel(t.Context())
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	src, err := speechsource.NewClipSource([]int16{1, 2, 3}, 16000, speechsource.ClipConfig{})
	require.NoError(t, err)
	rec, err := p.NewRecognizer(src)
	require.NoError(t, err)
	assert.False(t, rec.IsRecognizing())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestLoadModelByLanguage(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.Recognition.Language = "de"
	settings.Models.Languages = []conf.LanguageModel{
		{Language: "en-US", Path: writeModel(t)},
		{Language: "de-DE", Path: writeModel(t)},
	}

	p, err := New(settings)
	require.NoError(t, err)
	loader := &recordingLoader{}
	p.Loader = loader.load
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.LoadModel(t.Context()))
	assert.Equal(t, "de-DE", p.Language())
	require.Len(t, loader.paths, 1)

	repo, err := OpenRepository(settings, nil)
	require.NoError(t, err)
	models := repo.Models()
	require.Len(t, models, 1)
	assert.Contains(t, models[0].Tag, "de-DE")
}

func TestLoadModelErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*conf.Settings)
		category errors.ErrorCategory
	}{
		{
			name:     "bad language",
			mutate:   func(s *conf.Settings) { s.Recognition.Language = "not a tag!" },
			category: errors.CategoryConfiguration,
		},
		{
			name:     "no languages",
			mutate:   func(*conf.Settings) {},
			category: errors.CategoryConfiguration,
		},
		{
			name: "unsupported language",
			mutate: func(s *conf.Settings) {
				s.Recognition.Language = "ja"
				s.Models.Languages = []conf.LanguageModel{{Language: "en-US", Path: "/nowhere"}}
			},
			category: errors.CategoryNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := testSettings(t)
			tt.mutate(settings)

			p, err := New(settings)
			require.NoError(t, err)
			p.Loader = (&recordingLoader{}).load

			err = p.LoadModel(t.Context())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestServeMetricsDisabled(t *testing.T) {
	t.Parallel()

	p, err := New(testSettings(t))
	require.NoError(t, err)
	assert.NoError(t, p.ServeMetrics(t.Context()))
}
