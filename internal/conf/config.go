package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. STORYTELLER_AUDIO_SAMPLERATE.
const EnvPrefix = "STORYTELLER"

// ConfigName is the configuration file name without extension.
const ConfigName = "config"

// LanguageModel maps a language tag to a packaged model.
type LanguageModel struct {
	Language string `yaml:"language"` // BCP 47 tag
	Path     string `yaml:"path"`     // directory, or entry inside Models.Archive
}

// ModelSettings locates models.
type ModelSettings struct {
	Dir       string          `yaml:"dir"`       // model repository root
	Archive   string          `yaml:"archive"`   // optional zip bundling the language models
	Languages []LanguageModel `yaml:"languages"` // packaged models per language
	ModelPath string          `yaml:"modelpath"` // explicit model directory, bypasses languages
}

// RecognitionSettings tunes recognition runs.
type RecognitionSettings struct {
	Language           string        `yaml:"language"`
	Vocabulary         []string      `yaml:"vocabulary"`
	Words              bool          `yaml:"words"`        // per-word details in final results
	Alternatives       int           `yaml:"alternatives"` // 0 disables alternatives
	AllowEmptyPartials bool          `yaml:"allowemptypartials"`
	TickInterval       time.Duration `yaml:"tickinterval"` // result polling interval
}

// AudioSettings configures audio sources.
type AudioSettings struct {
	SampleRate      int           `yaml:"samplerate"`
	Device          string        `yaml:"device"` // capture device name filter, empty for default
	TimeSensitivity time.Duration `yaml:"timesensitivity"`
	Realtime        bool          `yaml:"realtime"` // pace clips at their sample rate
	ChunkSize       int           `yaml:"chunksize"`
}

// PoolSettings sizes the shared sample buffer pool.
type PoolSettings struct {
	MinSize   int `yaml:"minsize"`
	MaxSize   int `yaml:"maxsize"`
	PerBucket int `yaml:"perbucket"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port
}

// MQTTSettings configures transcript publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // tcp://host:1883
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Retain   bool   `yaml:"retain"`
}

// DownloadSettings configures model downloads.
type DownloadSettings struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"useragent"`
}

// Settings is the complete storyteller configuration.
type Settings struct {
	Debug       bool                 `yaml:"debug"`
	Models      ModelSettings        `yaml:"models"`
	Recognition RecognitionSettings  `yaml:"recognition"`
	Audio       AudioSettings        `yaml:"audio"`
	Pool        PoolSettings         `yaml:"pool"`
	Logging     logger.LoggingConfig `yaml:"logging"`
	Metrics     MetricsSettings      `yaml:"metrics"`
	MQTT        MQTTSettings         `yaml:"mqtt"`
	Download    DownloadSettings     `yaml:"download"`
}

// GetDefaultConfigPaths returns the directories searched for config.yaml:
// the user config directory and the working directory.
func GetDefaultConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "storyteller"))
	}
	return append(paths, ".")
}

// Load reads settings into v, which may carry bound command-line flags. An
// explicit configFile must exist; otherwise the default paths are searched
// and a missing file means defaults only.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Context("operation", "read_config").
				Build()
		}
		GetLogger().Debug("no config file found, using defaults")
	} else {
		GetLogger().Debug("config file loaded", logger.String("path", v.ConfigFileUsed()))
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings writes settings to path as YAML, replacing the file atomically.
func SaveSettings(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal_config").
			Build()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileSystem).
			FileContext(dir, "create_config_dir").
			Build()
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileSystem).
			FileContext(dir, "create_temp_config").
			Build()
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileSystem).
			FileContext(tmpName, "write_temp_config").
			Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileSystem).
			FileContext(tmpName, "close_temp_config").
			Build()
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileSystem).
			FileContext(path, "replace_config").
			Build()
	}

	GetLogger().Info("settings saved", logger.String("path", path))
	return nil
}
