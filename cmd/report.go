package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pkot5/kluetune/internal/report"
)

var (
	flagReportTask   string
	flagReportFormat string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [output-dir]",
		Short: "Summarize per-fold results for a task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir := ""
			if len(args) == 1 {
				outputDir = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				outputDir = cfg.OutputDir
			}
			return report.Generate(outputDir, flagReportTask, flagReportFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagReportTask, "task", "ynat", "task name")
	cmd.Flags().StringVar(&flagReportFormat, "format", "table", "output format: table, markdown, json")
	return cmd
}
