package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c43892/storyteller/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	settings, err := Load(viper.New(), writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, "models", settings.Models.Dir)
	assert.Equal(t, 16000, settings.Audio.SampleRate)
	assert.Equal(t, 100*time.Millisecond, settings.Audio.TimeSensitivity)
	assert.Equal(t, 10*time.Millisecond, settings.Recognition.TickInterval)
	assert.Equal(t, PoolSettings{MinSize: 1024, MaxSize: 65536, PerBucket: 10}, settings.Pool)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Equal(t, 30*time.Minute, settings.Download.Timeout)
	assert.False(t, settings.MQTT.Enabled)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
models:
  dir: /var/lib/storyteller
  archive: bundle.zip
  languages:
    - language: en-US
      path: models/en-us
    - language: de
      path: models/de
recognition:
  language: de
  vocabulary: [yes, no, "[unk]"]
  tickinterval: 25ms
audio:
  samplerate: 8000
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic: home/speech
`)
	settings, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/storyteller", settings.Models.Dir)
	assert.Equal(t, []LanguageModel{
		{Language: "en-US", Path: "models/en-us"},
		{Language: "de", Path: "models/de"},
	}, settings.Models.Languages)
	assert.Equal(t, []string{"yes", "no", "[unk]"}, settings.Recognition.Vocabulary)
	assert.Equal(t, 25*time.Millisecond, settings.Recognition.TickInterval)
	assert.Equal(t, 8000, settings.Audio.SampleRate)
	assert.Equal(t, "home/speech", settings.MQTT.Topic)
	assert.Equal(t, "storyteller", settings.MQTT.ClientID, "unset keys keep defaults")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORYTELLER_AUDIO_SAMPLERATE", "44100")
	t.Setenv("STORYTELLER_MODELS_DIR", "/tmp/models")

	settings, err := Load(viper.New(), writeConfig(t, "audio:\n  samplerate: 8000\n"))
	require.NoError(t, err)
	assert.Equal(t, 44100, settings.Audio.SampleRate)
	assert.Equal(t, "/tmp/models", settings.Models.Dir)
}

func TestLoadBoundFlagsWin(t *testing.T) {
	t.Parallel()
	v := viper.New()
	v.Set("recognition.language", "fr")

	settings, err := Load(v, writeConfig(t, "recognition:\n  language: de\n"))
	require.NoError(t, err)
	assert.Equal(t, "fr", settings.Recognition.Language)
}

func TestBindFlags(t *testing.T) {
	t.Parallel()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("language", "", "")
	flags.Int("rate", 0, "")
	flags.String("unmapped", "", "")

	require.NoError(t, MapFlags(flags, map[string]string{
		"recognition.language": "language",
		"audio.samplerate":     "rate",
	}))
	require.NoError(t, flags.Parse([]string{"--language", "fr", "--unmapped", "x"}))

	v := viper.New()
	require.NoError(t, BindFlags(v, flags))

	settings, err := Load(v, writeConfig(t, "recognition:\n  language: de\naudio:\n  samplerate: 8000\n"))
	require.NoError(t, err)
	assert.Equal(t, "fr", settings.Recognition.Language)
	assert.Equal(t, 8000, settings.Audio.SampleRate, "unchanged flags do not override the file")

	err = MapFlags(flags, map[string]string{"audio.device": "device"})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = Load(viper.New(), writeConfig(t, "audio: [not, a, map"))
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = Load(viper.New(), writeConfig(t, "audio:\n  samplerate: 0\n"))
	require.Error(t, err)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Errors, "audio.samplerate must be positive")
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	settings, err := Load(viper.New(), writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	settings.Models.Languages = []LanguageModel{{Language: "fr", Path: "models/fr"}}
	settings.Recognition.TickInterval = 50 * time.Millisecond
	settings.MQTT.Enabled = true
	settings.MQTT.Password = "secret"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveSettings(path, settings))

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, settings.Models, loaded.Models)
	assert.Equal(t, settings.Audio, loaded.Audio)
	assert.Equal(t, settings.Pool, loaded.Pool)
	assert.Equal(t, settings.MQTT, loaded.MQTT)
	assert.Equal(t, settings.Recognition.TickInterval, loaded.Recognition.TickInterval)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}
