package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmunix/bookarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate configuration file",
	Long:  "Validates config.toml syntax, required fields, and environment variable substitution without starting the daemon.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigCheck,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return err
		}
		path = discovered
	}

	fmt.Printf("Validating %s...\n\n", path)

	cfg, cerr := config.CheckFile(path)
	if cerr != nil {
		printConfigErrors(cerr)
		return fmt.Errorf("configuration invalid")
	}

	printConfigSummary(cfg)
	fmt.Println("\nConfiguration valid!")
	return nil
}

func printConfigErrors(e *config.ConfigError) {
	if len(e.Missing) > 0 {
		fmt.Println("Missing environment variables:")
		for _, m := range e.Missing {
			fmt.Printf("  - %s\n", m)
		}
		fmt.Println()
	}

	if len(e.Errors) > 0 {
		fmt.Println("Validation errors:")
		for _, err := range e.Errors {
			fmt.Printf("  - %s\n", err)
		}
		fmt.Println()
	}
}

func printConfigSummary(cfg *config.Config) {
	fmt.Println("Configuration Summary:")
	fmt.Printf("  Database:   %s (log: %s)\n", cfg.Database.Path, cfg.Server.LogLevel)
	fmt.Printf("  Scan dirs:  %s\n", strings.Join(cfg.Processing.ScanDirs, ", "))

	libs := []string{}
	if cfg.Libraries.Ebook.Root != "" {
		libs = append(libs, "ebook")
	}
	if cfg.Libraries.Audiobook.Root != "" {
		libs = append(libs, "audiobook")
	}
	if cfg.Libraries.Magazine.Root != "" {
		libs = append(libs, "magazine")
	}
	if cfg.Libraries.Comic.Root != "" {
		libs = append(libs, "comic")
	}
	fmt.Printf("  Libraries:  %s\n", strings.Join(libs, ", "))

	backends := []string{}
	if cfg.Backends.SABnzbd != nil {
		backends = append(backends, "sabnzbd")
	}
	if cfg.Backends.QBittorrent != nil {
		backends = append(backends, "qbittorrent")
	}
	if cfg.Backends.Direct != nil {
		backends = append(backends, "direct")
	}
	if len(backends) > 0 {
		fmt.Printf("  Backends:   %s\n", strings.Join(backends, ", "))
	}

	if cfg.Calibre.Binary != "" {
		fmt.Printf("  Calibre:    %s\n", cfg.Calibre.Binary)
	}
}
