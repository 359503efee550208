package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/audiorm/cmd/run"
	"github.com/tphakala/audiorm/cmd/simulate"
	"github.com/tphakala/audiorm/cmd/validate"
	"github.com/tphakala/audiorm/cmd/version"
	"github.com/tphakala/audiorm/internal/buildinfo"
	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

var central *logger.CentralLogger

// RootCommand creates and returns the root command. settings is filled in
// before any sub-command runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "audiorm",
		Short:         "Audio device and stream resource manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       info.Version(),
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		// flag definitions are static; a failure here is a programming error
		panic(err)
	}

	rootCmd.AddCommand(
		run.Command(settings, info),
		validate.Command(settings),
		simulate.Command(settings),
		version.Command(info),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded
		return initialize(settings)
	}

	return rootCmd
}

// initialize sets up logging once settings are known.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return errors.Newf("failed to initialize logging: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(cl)
	central = cl
	return nil
}

// CloseLogging flushes and closes log files opened by initialize.
func CloseLogging() error {
	return central.Close()
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().BoolP("debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to the configuration file")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return errors.Newf("error binding flags: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
