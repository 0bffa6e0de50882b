package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/hangar/internal/db"
	"github.com/zulandar/hangar/internal/status"
)

func newLogsCmd() *cobra.Command {
	var (
		configPath string
		lines      int
		timestamps bool
	)

	cmd := &cobra.Command{
		Use:   "logs <worker>",
		Short: "Show a worker's recent output",
		Long:  "Prints the log snapshot stored with the worker's last status transition.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, configPath, args[0], lines, timestamps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Hangar config file")
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "show only the last N lines (0 = all)")
	cmd.Flags().BoolVarP(&timestamps, "timestamps", "t", false, "prefix each line with its time")
	return cmd
}

func runLogs(cmd *cobra.Command, configPath, id string, lines int, timestamps bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	r, err := status.NewGormStore(gormDB, cfg.SnapshotLines).Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	logs := r.Logs
	if len(logs) == 0 {
		fmt.Fprintf(out, "No logs recorded for %s.\n", id)
		return nil
	}
	if lines > 0 && len(logs) > lines {
		logs = logs[len(logs)-lines:]
	}
	for _, l := range logs {
		if timestamps {
			fmt.Fprintf(out, "%s %s\n", l.Time.Local().Format(time.DateTime), l.String())
			continue
		}
		fmt.Fprintln(out, l.String())
	}
	return nil
}
