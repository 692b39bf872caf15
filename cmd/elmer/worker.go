package main

import (
	"fmt"

	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var (
		configPath  string
		concurrency int
		once        bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job pool",
		Long:  "Claims pending jobs and runs them until interrupted. Stale running jobs are requeued on the configured sweep schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath, concurrency, once)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (overrides worker.concurrency)")
	cmd.Flags().BoolVar(&once, "once", false, "process every pending job and exit")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string, concurrency int, once bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := loggerFromConfig(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	pool := newPool(cfg, gormDB, metrics.New(), log)
	if once {
		n, err := pool.Drain(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d jobs\n", n)
		return err
	}

	if err := startSweeper(ctx, cfg, gormDB, pool, log); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Worker running with %d slots\n", cfg.Worker.Concurrency)
	return pool.Run(ctx)
}
