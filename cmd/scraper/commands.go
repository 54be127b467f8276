package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alo-ngh/iea-scraper/schedule"
)

func init() {
	rootCmd.AddCommand(runCmd(), scheduleCmd(), listCmd())
}

func runCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [job...]",
		Short: "Runs the given jobs now, or every enabled job when none is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.entries(args, flags)
			if err != nil {
				return err
			}

			statuses := schedule.RunAll(cmd.Context(), entries, a.options())
			fmt.Fprintln(cmd.OutOrStdout(), schedule.Summary(statuses))

			if n := schedule.Failures(statuses); n > 0 {
				return fmt.Errorf("%d of %d jobs failed", n, len(statuses))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.full, "full", false, "reload the entire history instead of the latest periods")
	cmd.Flags().BoolVar(&flags.noDownload, "no-download", false, "re-process the cached files without downloading")
	cmd.Flags().BoolVar(&flags.sequential, "sequential", false, "fetch and parse with a single worker")
	return cmd
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs enabled jobs on their cron schedule until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.entries(nil, runFlags{})
			if err != nil {
				return err
			}
			d, err := schedule.NewDaemon(entries, a.options(), time.Local)
			if err != nil {
				return err
			}
			return d.Run(ctx)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the configured jobs with their schedule and last run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t := schedule.NewTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Job", "Schedule", "Enabled", "Last run", "Result", "Uploaded"})

			for _, def := range registry {
				cfg := a.cfg.Job(def.name)
				spec := cfg.Schedule
				if spec == "" {
					spec = def.spec
				}
				row := table.Row{def.name, spec, !cfg.Disabled, "", "", ""}

				if a.runLog != nil {
					last, ok, err := a.runLog.Last(cmd.Context(), def.name)
					if err != nil {
						return err
					}
					if ok {
						row[3] = last.StartedAt.Local().Format(time.DateTime)
						row[4] = last.Outcome
						row[5] = last.Stats.Uploaded()
					}
				}
				t.AppendRow(row)
			}
			t.Render()
			return nil
		},
	}
}
