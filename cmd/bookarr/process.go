package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/vmunix/bookarr/internal/calibre"
	"github.com/vmunix/bookarr/internal/processor"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processing pass over outstanding jobs",
	RunE:  runProcessCmd,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().Int64P("job", "j", 0, "Process a single job by ID")
	processCmd.Flags().StringP("dir", "d", "", "Search this folder instead of the configured scan dirs")
	processCmd.Flags().Bool("ignore-backend", false, "Skip download client checks, trust what is on disk")
}

func runProcessCmd(cmd *cobra.Command, args []string) error {
	jobID, _ := cmd.Flags().GetInt64("job")
	startDir, _ := cmd.Flags().GetString("dir")
	ignoreBackend, _ := cmd.Flags().GetBool("ignore-backend")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	// The daemon and manual passes share the lock file.
	lock := flock.New(cfg.Server.LockFile)
	locked, err := lock.TryLock()
	if err == nil && !locked {
		fmt.Fprintln(os.Stderr, "another bookarr process is running")
		os.Exit(2)
	}
	if err == nil {
		defer func() { _ = lock.Unlock() }()
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var cal *calibre.Importer
	if cfg.Calibre.Binary != "" {
		cal = calibre.NewImporter(cfg.Calibre.Binary, cfg.Calibre.Library, logger)
	}
	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	proc := processor.New(store, buildRegistry(cfg, logger), cal, nil, opts, logger)

	summary, err := proc.Run(context.Background(), processor.Request{
		JobID:         jobID,
		StartDir:      startDir,
		IgnoreBackend: ignoreBackend,
	})
	switch {
	case errors.Is(err, processor.ErrAlreadyRunning):
		fmt.Fprintln(os.Stderr, "another bookarr process is running")
		os.Exit(2)
	case errors.Is(err, processor.ErrNothingToDo):
		fmt.Println("Nothing to process")
		os.Exit(3)
	case err != nil:
		return err
	}

	fmt.Printf("Processed: %d  Failed: %d  Aborted: %d  Seeding: %d  Skipped: %d\n",
		summary.Processed, summary.Failed, summary.Aborted, summary.Seeding, summary.Skipped)
	return nil
}
