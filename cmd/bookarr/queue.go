package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vmunix/bookarr/internal/catalog"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show tracked download jobs",
	RunE:  runQueueCmd,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.Flags().BoolP("all", "a", false, "Include terminal states (processed, failed)")
	queueCmd.Flags().StringP("state", "s", "", "Filter by state (snatched, seeding, aborted, processed, failed)")
}

func runQueueCmd(cmd *cobra.Command, args []string) error {
	showAll, _ := cmd.Flags().GetBool("all")
	stateFilter, _ := cmd.Flags().GetString("state")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	f := catalog.JobFilter{}
	switch {
	case stateFilter != "":
		state := catalog.State(stateFilter)
		f.State = &state
	case !showAll:
		f.States = []catalog.State{catalog.StateSnatched, catalog.StateSeeding, catalog.StateAborted}
	}

	jobs, err := store.ListJobs(f)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"ID", "STATE", "KIND", "TITLE", "BACKEND", "SNATCHED", "RESULT"})
	for _, j := range jobs {
		title := j.Title
		if len(title) > 48 {
			title = title[:45] + "..."
		}
		result := j.LastResult
		if len(result) > 32 {
			result = result[:29] + "..."
		}
		w.AppendRow(table.Row{
			j.ID, j.State, j.Kind, title, j.Backend,
			formatAge(j.SnatchedAt), result,
		})
	}
	w.SetStyle(table.StyleLight)
	w.Render()
	return nil
}

// formatAge renders a timestamp as a compact relative age.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
