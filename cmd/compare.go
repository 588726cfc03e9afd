package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tracesmith/internal/observability"
	"github.com/xkilldash9x/tracesmith/internal/synth"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

var compareReason string

var compareCmd = &cobra.Command{
	Use:   "compare <better-session-id> <worse-session-id>",
	Short: "Build a preference pair from two recorded sessions for the same task.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		store, err := tracelog.NewStore(appConfig.Collector.DataDir, logger)
		if err != nil {
			return err
		}

		better, err := store.SessionByID(args[0])
		if err != nil {
			return err
		}
		worse, err := store.SessionByID(args[1])
		if err != nil {
			return err
		}

		pair, err := synth.NewSynthesizer(store, logger).ComparePair(better, worse, compareReason)
		if err != nil {
			return err
		}

		if pair.Chosen == "" {
			fmt.Println("warning: sessions do not diverge; a degenerate (empty) pair was recorded")
		} else {
			fmt.Println("preference pair recorded")
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVarP(&compareReason, "reason", "r", "", "why the first session is preferred")
	rootCmd.AddCommand(compareCmd)
}
