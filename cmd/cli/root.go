package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	reviewToken string
)

var rootCmd = &cobra.Command{
	Use:   "stackward",
	Short: "stackward is the command-line interface for Stack-Warden.",
	Long:  `A CLI for managing and interacting with the Stack-Warden service, allowing for administrative tasks like reconciling review stacks and inspecting the run history.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&reviewToken, "review-token", "t", "", "Review service API token")

	if err := viper.BindPFlag("REVIEW_TOKEN", rootCmd.PersistentFlags().Lookup("review-token")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("SW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
