package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/hangar/internal/db"
	"github.com/zulandar/hangar/internal/status"
	"golang.org/x/term"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		events     int
	)

	cmd := &cobra.Command{
		Use:   "status [worker]",
		Short: "Show persisted worker status",
		Long:  "Prints the last recorded status of every configured worker, or details and recent transitions for one worker. A worker with no record is stopped.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runStatus(cmd, configPath, id, events)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Hangar config file")
	cmd.Flags().IntVar(&events, "events", 10, "number of recent transitions to show for one worker")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath, id string, events int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	store := status.NewGormStore(gormDB, cfg.SnapshotLines)
	out := cmd.OutOrStdout()
	color := isTerminal(out)

	if id != "" {
		r, err := store.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		evs, err := store.Events(cmd.Context(), id, events)
		if err != nil {
			return err
		}
		printRecord(out, r, color)
		if len(evs) > 0 {
			fmt.Fprintln(out, "\nRecent transitions:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, e := range evs {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", e.CreatedAt.Format(time.DateTime), colorStatus(e.Status, color), e.Message)
			}
			w.Flush()
		}
		return nil
	}

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.WorkerID] = true
	}
	for _, wc := range cfg.Workers {
		if !seen[wc.ID] {
			records = append(records, status.Record{WorkerID: wc.ID, Status: status.Stopped})
		}
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No workers.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tSTATUS\tPID\tLAST STARTED\tLAST EXIT\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.WorkerID,
			colorStatus(r.Status, color),
			formatPID(r.PID),
			formatTime(r.LastStarted),
			formatExit(r.LastExitCode),
			truncate(r.Message, 60))
	}
	return w.Flush()
}

func printRecord(out io.Writer, r status.Record, color bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Worker:\t%s\n", r.WorkerID)
	fmt.Fprintf(w, "Status:\t%s\n", colorStatus(r.Status, color))
	fmt.Fprintf(w, "PID:\t%s\n", formatPID(r.PID))
	fmt.Fprintf(w, "Last started:\t%s\n", formatTime(r.LastStarted))
	fmt.Fprintf(w, "Last stopped:\t%s\n", formatTime(r.LastStopped))
	fmt.Fprintf(w, "Last exit:\t%s\n", formatExit(r.LastExitCode))
	if r.Message != "" {
		fmt.Fprintf(w, "Message:\t%s\n", r.Message)
	}
	w.Flush()
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func colorStatus(s string, color bool) string {
	if !color {
		return s
	}
	switch s {
	case status.Running:
		return "\033[32m" + s + "\033[0m"
	case status.Error:
		return "\033[31m" + s + "\033[0m"
	default:
		return "\033[90m" + s + "\033[0m"
	}
}

func formatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatExit(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
