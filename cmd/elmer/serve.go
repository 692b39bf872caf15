package main

import (
	"github.com/elmerpm/elmer/internal/api"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		withWorker bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Elmer API server",
		Long:  "Serves the board, transition and job API. With --worker the job pool runs in the same process and is woken after every dispatch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, withWorker)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&withWorker, "worker", true, "run the job pool in-process")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, withWorker bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := loggerFromConfig(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if port <= 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	m := metrics.New()
	svc, err := newService(ctx, cfg, gormDB, m, log)
	if err != nil {
		return err
	}

	opts := api.StartOpts{
		DB:      gormDB,
		Service: svc,
		Metrics: m,
		Log:     log,
		Port:    port,
		Out:     cmd.OutOrStdout(),
	}

	g, ctx := errgroup.WithContext(ctx)
	if withWorker {
		pool := newPool(cfg, gormDB, m, log)
		svc.Trigger = pool
		opts.Processor = pool
		if err := startSweeper(ctx, cfg, gormDB, pool, log); err != nil {
			return err
		}
		g.Go(func() error { return pool.Run(ctx) })
	}
	g.Go(func() error {
		defer cancel()
		return api.Start(ctx, opts)
	})
	return g.Wait()
}
