package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shanehull/douclip/internal/notify"
	"github.com/shanehull/douclip/internal/pipeline"
	"github.com/shanehull/douclip/internal/planner"
	"github.com/shanehull/douclip/internal/types"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		date    string
		noEmail bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan today's editions (plus lookback) and notify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := time.Now().In(a.cfg.AlwaysWindow().Location)
			if date != "" {
				d, err := planner.ParseDay(date)
				if err != nil {
					return err
				}
				target = d
			}

			res, err := a.execute(cmd.Context(), pipeline.Request{
				Mode:  types.ModeDaily,
				Start: target,
				End:   target,
			})
			notify.Report(cmd.OutOrStdout(), res)
			if err != nil {
				return err
			}

			// A delivery failure does not undo a recorded run.
			_, err = a.notifier(!noEmail).Notify(cmd.Context(), notify.Digest{Run: res.Run, Matches: res.Matches})
			if err != nil {
				a.log.Error("Notification failed", zap.String("run_id", res.Run.ID), zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default: today in the notify timezone)")
	cmd.Flags().BoolVar(&noEmail, "no-email", false, "never send email for this run")
	return cmd
}

func newBackfillCmd(a *app) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Scan an explicit date range without notifying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := planner.ParseDay(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			e, err := planner.ParseDay(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			res, err := a.execute(cmd.Context(), pipeline.Request{
				Mode:  types.ModeBackfill,
				Start: s,
				End:   e,
			})
			notify.Report(cmd.OutOrStdout(), res)
			return err
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTED\tMODE\tSTATUS\tWINDOW\tMATCHES\tPROCESSED\tFAILED\tNOTES")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s..%s\t%d\t%d\t%d\t%s\n",
					r.ExecutedAt.Local().Format("2006-01-02 15:04"),
					r.Mode, r.Status,
					r.StartDate.Format(types.DateLayout), r.EndDate.Format(types.DateLayout),
					r.MatchCount, r.FilesProcessed, r.FilesFailed, r.Notes,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}
