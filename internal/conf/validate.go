package conf

import (
	"fmt"
	"math/bits"
	"net/url"
	"strings"

	"golang.org/x/text/language"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
)

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings checks settings and returns a configuration error wrapping
// a ValidationError when anything is wrong.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	ve.Errors = append(ve.Errors, validateModelSettings(&settings.Models)...)
	ve.Errors = append(ve.Errors, validateRecognitionSettings(&settings.Recognition)...)
	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validatePoolSettings(&settings.Pool)...)
	ve.Errors = append(ve.Errors, validateLoggingSettings(&settings.Logging)...)
	ve.Errors = append(ve.Errors, validateMetricsSettings(&settings.Metrics)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("problems", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateModelSettings(s *ModelSettings) []string {
	var errs []string
	if s.Dir == "" {
		errs = append(errs, "models.dir must be set")
	}
	for i, lm := range s.Languages {
		if _, err := language.Parse(lm.Language); err != nil {
			errs = append(errs, fmt.Sprintf("models.languages[%d]: invalid language %q", i, lm.Language))
		}
		if lm.Path == "" {
			errs = append(errs, fmt.Sprintf("models.languages[%d]: path must be set", i))
		}
	}
	return errs
}

func validateRecognitionSettings(s *RecognitionSettings) []string {
	var errs []string
	if s.Language != "" {
		if _, err := language.Parse(s.Language); err != nil {
			errs = append(errs, fmt.Sprintf("recognition.language: invalid language %q", s.Language))
		}
	}
	if s.Alternatives < 0 {
		errs = append(errs, "recognition.alternatives must not be negative")
	}
	if s.TickInterval <= 0 {
		errs = append(errs, "recognition.tickinterval must be positive")
	}
	return errs
}

func validateAudioSettings(s *AudioSettings) []string {
	var errs []string
	if s.SampleRate <= 0 {
		errs = append(errs, "audio.samplerate must be positive")
	}
	if s.TimeSensitivity <= 0 {
		errs = append(errs, "audio.timesensitivity must be positive")
	}
	if s.ChunkSize <= 0 {
		errs = append(errs, "audio.chunksize must be positive")
	}
	return errs
}

func validatePoolSettings(s *PoolSettings) []string {
	var errs []string
	if s.MinSize <= 0 || bits.OnesCount(uint(s.MinSize)) != 1 {
		errs = append(errs, fmt.Sprintf("pool.minsize %d must be a power of two", s.MinSize))
	}
	if s.MaxSize <= 0 || bits.OnesCount(uint(s.MaxSize)) != 1 {
		errs = append(errs, fmt.Sprintf("pool.maxsize %d must be a power of two", s.MaxSize))
	}
	if s.MaxSize < s.MinSize {
		errs = append(errs, "pool.maxsize must not be smaller than pool.minsize")
	}
	if s.PerBucket <= 0 {
		errs = append(errs, "pool.perbucket must be positive")
	}
	return errs
}

func validateLoggingSettings(s *logger.LoggingConfig) []string {
	var errs []string
	check := func(key, level string) {
		if level != "" && !logger.ValidLevel(level) {
			errs = append(errs, fmt.Sprintf("%s: unknown level %q", key, level))
		}
	}
	check("logging.defaultlevel", s.DefaultLevel)
	if s.Console != nil {
		check("logging.console.level", s.Console.Level)
		if f := s.Console.Format; f != "" && f != "text" && f != "json" {
			errs = append(errs, fmt.Sprintf("logging.console.format: unknown format %q", f))
		}
	}
	if s.FileOutput != nil {
		check("logging.fileoutput.level", s.FileOutput.Level)
		if s.FileOutput.Enabled && s.FileOutput.Path == "" {
			errs = append(errs, "logging.fileoutput.path must be set when file output is enabled")
		}
	}
	for module, level := range s.ModuleLevels {
		check("logging.modulelevels."+module, level)
	}
	return errs
}

func validateMetricsSettings(s *MetricsSettings) []string {
	if s.Enabled && s.Listen == "" {
		return []string{"metrics.listen must be set when metrics are enabled"}
	}
	return nil
}

func validateMQTTSettings(s *MQTTSettings) []string {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if s.Broker == "" {
		errs = append(errs, "mqtt.broker must be set when mqtt is enabled")
	} else if u, err := url.Parse(s.Broker); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must be a URL such as tcp://host:1883", s.Broker))
	}
	if s.Topic == "" {
		errs = append(errs, "mqtt.topic must be set when mqtt is enabled")
	}
	return errs
}
