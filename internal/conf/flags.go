package conf

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/c43892/storyteller/internal/errors"
)

// settingsKeyAnnotation marks a flag with the settings key it overrides.
const settingsKeyAnnotation = "storyteller/settings-key"

// MapFlags marks each named flag in flags as the override of a settings key.
// keys maps settings keys to flag names. Commands sharing a settings key may
// each map their own flag; only the flags of the running command are bound.
func MapFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := flags.SetAnnotation(name, settingsKeyAnnotation, []string{key}); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("key", key).
				Context("flag", name).
				Build()
		}
	}
	return nil
}

// BindFlags binds every mapped flag in flags to v, so a flag set on the
// command line overrides the config file and the environment.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(flag *pflag.Flag) {
		keys := flag.Annotations[settingsKeyAnnotation]
		if bindErr != nil || len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], flag); err != nil {
			bindErr = errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("key", keys[0]).
				Build()
		}
	})
	return bindErr
}
