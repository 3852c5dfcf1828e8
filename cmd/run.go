package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/feedback-cli/internal/feedback"
)

var runDataset string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest new survey rows and print the dashboard payload",
	Long:  "Classifies every row of the dataset not seen before, then aggregates the full tag ledger. Failures are reported in the payload's error field.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		payload := env.Pipeline.RunDataset(ctx, datasetPath())
		return writeJSON(os.Stdout, payload)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Classify new survey rows without building the payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := feedback.Load(datasetPath())
		if err != nil {
			return err
		}
		stats, err := env.Pipeline.Ingest(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		return writeJSON(os.Stdout, stats)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the dashboard payload for the current tag ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "report")
		if err != nil {
			return err
		}
		defer env.Close()

		payload, err := env.Pipeline.Payload(ctx)
		if err != nil {
			return eris.Wrap(err, "report")
		}
		return writeJSON(os.Stdout, payload)
	},
}

func datasetPath() string {
	if runDataset != "" {
		return runDataset
	}
	return cfg.Dataset.Path
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{runCmd, ingestCmd} {
		c.Flags().StringVar(&runDataset, "dataset", "", "CSV or XLSX survey export (default from config)")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(reportCmd)
}
