package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bookarr",
	Short: "CLI for bookarr download post-processing",
	Long: `bookarr - CLI for bookarr download post-processing

Inspect the job queue, run processing passes by hand and manage
the configuration.

Run 'bookarrd' to start the polling daemon.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: discovered)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("bookarr {{.Version}}\n")
}
