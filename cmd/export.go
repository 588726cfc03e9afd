package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tracesmith/internal/observability"
	"github.com/xkilldash9x/tracesmith/internal/tracelog"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the SFT example log as a single JSON dataset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := tracelog.NewStore(appConfig.Collector.DataDir, observability.GetLogger())
		if err != nil {
			return err
		}

		n, err := store.ExportSFT(exportOutput)
		if err != nil {
			return err
		}

		fmt.Printf("exported %d examples to %s\n", n, exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "sft_dataset.json", "output path for the JSON dataset")
	rootCmd.AddCommand(exportCmd)
}
