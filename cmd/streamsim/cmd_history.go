package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/streamsim/internal/simulation"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print baseline history and statistics for a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Simulation.HistoryDays = days
			sim, err := newSimulator(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := sim.LoadBaseline(ctx); err != nil {
				return err
			}
			start, end, err := sim.Baseline().Window()
			if err != nil {
				return err
			}
			res, err := sim.History(ctx, simulation.HistoryQuery{Start: start, End: end, Streams: []string{stream}})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			h := res.Data[stream]
			out := cmd.OutOrStdout()
			for _, ev := range h.Events {
				fmt.Fprintf(out, "%s  %6.1f  %s\n", ev.Timestamp.Format(time.RFC3339), ev.Value(), ev.AnomalyFlag)
			}
			if b := h.Baseline; b != nil {
				fmt.Fprintf(out, "\nmean %.1f  median %.1f  stddev %.1f  min %.1f  max %.1f  trend %s\n",
					b.Mean, b.Median, b.StdDev, b.Min, b.Max, b.Patterns.Trend)
			}
			fmt.Fprintf(out, "%d events, %d external events\n", len(h.Events), len(res.ExternalEvents))
			return nil
		},
	}
	cmd.Flags().String("stream", "customer.tutor.search", "Stream name")
	cmd.Flags().Int("days", 7, "Days of history")
	return cmd
}
