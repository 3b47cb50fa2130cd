package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/firehose/internal/common"
	"github.com/armadaproject/firehose/internal/common/config"
	"github.com/armadaproject/firehose/internal/firehose/configuration"
)

const (
	CustomConfigLocation = "config"
	defaultConfigPath    = "./config/firehose"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "firehose",
		Short:         "firehose bulk loads generated trade rows into Postgres or MySQL as fast as the store accepts them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)

	cmd.AddCommand(
		loadCmd(),
		planCmd(),
	)

	return cmd
}

// bindFlags maps command line flags onto configuration keys. Flags only override the configuration when set.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	if err := viper.BindPFlag(CustomConfigLocation, cmd.Flags().Lookup(CustomConfigLocation)); err != nil {
		return err
	}
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// loadConfiguration reads and validates the configuration, logging every problem found.
func loadConfiguration() (configuration.FirehoseConfiguration, error) {
	var cfg configuration.FirehoseConfiguration
	common.LoadConfig(&cfg, defaultConfigPath, viper.GetStringSlice(CustomConfigLocation))
	if err := cfg.Validate(); err != nil {
		config.LogValidationErrors(err)
		return cfg, err
	}
	return cfg, nil
}
