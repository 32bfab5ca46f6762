package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/proctor-go/cmd/devices"
	"github.com/tphakala/proctor-go/cmd/monitor"
	"github.com/tphakala/proctor-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "proctor",
		Short:        "Proctoring integrity monitor",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	monitorCmd := monitor.Command(settings)
	devicesCmd := devices.Command(settings)

	rootCmd.AddCommand(monitorCmd, devicesCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// flags were parsed into settings; re-check what they may have broken
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	// consumed in main before settings are loaded, declared here for help output
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
