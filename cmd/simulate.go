package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/energitech/consolidator/internal/generate"
	"github.com/energitech/consolidator/internal/store"
)

var simulateSeed uint64

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Insert one synthetic telemetry reading per turbine for the current minute",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dsn := cfg.Sources.Sensor.DatabaseURL
		if dsn == "" {
			return eris.New("simulate requires a Postgres database (sources.sensor.database_url)")
		}

		pool, err := store.NewPool(ctx, dsn, nil)
		if err != nil {
			return eris.Wrap(err, "open sensor database")
		}
		defer pool.Close()

		if err := store.MigratePostgres(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate sensor database")
		}

		var seed *uint64
		if cmd.Flags().Changed("seed") {
			seed = &simulateSeed
		}

		turbines, _ := cmd.Flags().GetStringSlice("turbines")
		if len(turbines) == 0 {
			turbines = cfg.Pipeline.FallbackAssets
		}

		_, err = generate.NewSimulator(pool, seed).InsertCurrent(ctx, turbines)
		return err
	},
}

func init() {
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "random seed for reproducible readings")
	simulateCmd.Flags().StringSlice("turbines", nil, "turbine ids (default pipeline.fallback_assets)")
	rootCmd.AddCommand(simulateCmd)
}
