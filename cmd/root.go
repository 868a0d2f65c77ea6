// Package cmd wires the storyteller command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/c43892/storyteller/cmd/listen"
	"github.com/c43892/storyteller/cmd/models"
	"github.com/c43892/storyteller/cmd/transcribe"
	"github.com/c43892/storyteller/internal/conf"
	"github.com/c43892/storyteller/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled from
// the config file, the environment and flags before a subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	v := viper.New()
	var configFile string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "storyteller",
		Short:         "Offline speech recognition CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("models-dir", "", "Model repository directory")
	if err := conf.MapFlags(rootCmd.PersistentFlags(), map[string]string{
		"debug":      "debug",
		"models.dir": "models-dir",
	}); err != nil {
		panic(fmt.Sprintf("error mapping flags: %v", err))
	}

	rootCmd.AddCommand(
		models.Command(settings),
		transcribe.Command(settings),
		listen.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := conf.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		loaded, err := conf.Load(v, configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initLogging(settings)
		return err
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initLogging installs the global logger described by settings.
func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}
