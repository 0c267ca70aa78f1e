package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BearBump/BusTrack/config"
	"github.com/BearBump/BusTrack/internal/services/retention"
	"github.com/BearBump/BusTrack/internal/storage/pgbus"
)

type workerFactories struct {
	newStorage func(cfg *config.Config) (repo retention.Repository, closeFn func(), err error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (retention.Repository, func(), error) {
			st, err := pgbus.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
	}
}

type workerOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func newSweeper(cfg *config.Config, repo retention.Repository) *retention.Sweeper {
	interval := time.Duration(cfg.BusTrack.WorkerSweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	batchSize := cfg.BusTrack.WorkerSweepBatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}
	return retention.New(repo, cfg.BusTrack.HistoryRetentionDays).WithSettings(interval, batchSize)
}

// RunBusWorker runs the retention sweeper and, when an address is configured, the admin HTTP server.
func RunBusWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	sw := newSweeper(cfg, repo)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	if cfg.BusTrack.WorkerHTTPAddr != "" {
		go func() {
			httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.BusTrack.WorkerHTTPAddr,
				swaggerPath: opts.swaggerPath,
				onListen:    opts.onListen,
				sweeper:     sw,
				cfg:         cfg,
			})
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sw.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		cancel()
		runRes := <-runErr
		if errors.Is(err, http.ErrServerClosed) {
			return runRes
		}
		return err
	}
}
