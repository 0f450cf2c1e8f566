package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/generate"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate synthetic input data",
}

var generateProductionCmd = &cobra.Command{
	Use:   "production <year> <month>",
	Short: "Write a month of synthetic production ledger rows",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseLedgerArgs(args)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("seed") {
			seed, _ := cmd.Flags().GetUint64("seed")
			opts.Seed = &seed
		}

		dir, _ := cmd.Flags().GetString("out")
		if dir == "" {
			dir = cfg.Paths.OutputDir
		}
		format, _ := cmd.Flags().GetString("format")

		path, rows, err := generate.WriteLedgerFile(dir, format, opts)
		if err != nil {
			return err
		}

		zap.L().Info("production ledger written", zap.String("path", path), zap.Int("rows", rows))
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

// parseLedgerArgs reads the year and month positional arguments.
func parseLedgerArgs(args []string) (generate.LedgerOptions, error) {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		return generate.LedgerOptions{}, eris.Errorf("invalid year %q", args[0])
	}
	month, err := strconv.Atoi(args[1])
	if err != nil {
		return generate.LedgerOptions{}, eris.Errorf("invalid month %q", args[1])
	}
	if month < 1 || month > 12 {
		return generate.LedgerOptions{}, eris.Errorf("month must be in [1..12], got %d", month)
	}
	return generate.LedgerOptions{Year: year, Month: month}, nil
}

func init() {
	generateProductionCmd.Flags().Uint64("seed", 0, "random seed for reproducible output")
	generateProductionCmd.Flags().String("out", "", "output directory (default paths.output_dir)")
	generateProductionCmd.Flags().String("format", "csv", "output format: csv or xlsx")

	generateCmd.AddCommand(generateProductionCmd)
	rootCmd.AddCommand(generateCmd)
}
