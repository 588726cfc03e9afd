package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tracesmith/internal/observability"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print counts of collected traces, sessions and training artifacts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := tracelog.NewStore(appConfig.Collector.DataDir, observability.GetLogger())
		if err != nil {
			return err
		}

		stats, err := store.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("data dir:          %s\n", store.Dir())
		fmt.Printf("traces:            %d\n", stats.TraceCount)
		fmt.Printf("sessions:          %d\n", stats.SessionCount)
		fmt.Printf("sft examples:      %d\n", stats.SFTExampleCount)
		fmt.Printf("preference pairs:  %d\n", stats.PreferencePairCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
