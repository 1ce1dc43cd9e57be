package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lmhale99/iprPy-sub006/internal/bid"
	"github.com/lmhale99/iprPy-sub006/internal/executor"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
	"github.com/lmhale99/iprPy-sub006/internal/library"
	"github.com/lmhale99/iprPy-sub006/internal/logging"
	"github.com/lmhale99/iprPy-sub006/internal/storage"
	"github.com/lmhale99/iprPy-sub006/internal/worker"
)

var (
	runOnce     bool
	runIdentity int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Claim, execute and archive queued calculations until the queue is empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runIdentity > 0 {
			cfg.Identity = runIdentity
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := logging.New(os.Stderr, cfg.LogFile, cfg.WorkerIdentity())
		if err != nil {
			return err
		}
		defer logger.Close()

		jobs, err := jobstore.NewFS(cfg.RunDirectory)
		if err != nil {
			return err
		}
		if err := jobs.Sweep(ctx); err != nil {
			logger.Warn("sweep %s: %v", jobs.Root(), err)
		}
		lib, err := library.NewFS(cfg.LibDirectory)
		if err != nil {
			return err
		}
		bidder, err := bid.New(jobs, cfg.BidConfig())
		if err != nil {
			return err
		}
		opts := []worker.Option{worker.WithLogger(logger)}
		if cfg.JournalPath != "" {
			journal := storage.NewSQLiteStorage()
			if err := journal.Init(cfg.JournalPath); err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()
			opts = append(opts, worker.WithJournal(journal))
		}
		w, err := worker.NewWorker(jobs, lib, bidder, executor.NewProcess(jobs, cfg.ExecutorConfig()), cfg.WorkerConfig(runOnce), opts...)
		if err != nil {
			return err
		}

		logger.Info("run directory %s, library %s", jobs.Root(), lib.Root())
		err = w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted; stopping")
			return nil
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Stop after a single pass over the queue")
	runCmd.Flags().Int64Var(&runIdentity, "identity", 0, "Worker identity (default: configured identity or process id)")
	rootCmd.AddCommand(runCmd)
}
