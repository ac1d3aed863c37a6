package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/streamsim/internal/models"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print baseline events for a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			count, _ := cmd.Flags().GetInt("count")
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sim, err := newSimulator(cfg)
			if err != nil {
				return err
			}

			events := make([]models.StreamEvent, 0, count)
			for i := 0; i < count; i++ {
				ev, err := sim.GenerateEvent(stream)
				if err != nil {
					return err
				}
				events = append(events, ev)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-40s %6.1f  %s\n",
					ev.Timestamp.Format(time.RFC3339), ev.Stream, ev.Value(), ev.AnomalyFlag)
			}
			return nil
		},
	}
	cmd.Flags().String("stream", "customer.tutor.search", "Stream name")
	cmd.Flags().Int("count", 1, "Number of events")
	return cmd
}
