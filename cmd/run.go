package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/energitech/consolidator/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one consolidation pass",
	Long:  "Extracts the three feeds, canonicalizes, gates and deduplicates them, merge-upserts the result and prints the run summary as YAML.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, runErr := env.Engine.Run(ctx)
		if err := writeSummary(os.Stdout, summary); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "consolidation run")
		}
		if summary.Status != model.RunStatusSuccess {
			return eris.Errorf("consolidation run %s ended with status %s", summary.RunID, summary.Status)
		}
		return nil
	},
}

// writeSummary renders a run summary as YAML.
func writeSummary(w io.Writer, summary *model.RunSummary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(summary); err != nil {
		return eris.Wrap(err, "encode run summary")
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
