package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"data-act-broker/internal/db"
	"data-act-broker/internal/jobs"
	"data-act-broker/internal/logger"
	"data-act-broker/internal/queue"
	"data-act-broker/internal/rules"
	"data-act-broker/internal/schema"
	"data-act-broker/internal/staging"
	"data-act-broker/internal/storage"
	"data-act-broker/internal/worker"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// childJob runs in the child process. Returning an error exits 1 and
// leaves the message for redrive.
type childJob func(ctx context.Context, args []string, log zerolog.Logger) error

var childJobs = map[string]childJob{
	jobValidate: validateJob,
}

func runJob(cmd *cobra.Command, args []string) error {
	log := logger.Get().With().Int("pid", os.Getpid()).Logger()
	job, ok := childJobs[args[0]]
	if !ok {
		return &exitError{code: 1, err: fmt.Errorf("unknown job %q", args[0])}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	terms := make(chan os.Signal, 1)
	signal.Notify(terms, syscall.SIGTERM)
	go func() {
		if _, ok := <-terms; ok {
			log.Warn().Msg("Received SIGTERM, cancelling job")
			cancel()
		}
	}()

	err := job(ctx, args[1:], log)
	signal.Stop(terms)
	close(terms)

	// Die by the signal so the dispatcher sees the termination.
	if ctx.Err() != nil {
		signal.Reset(syscall.SIGTERM)
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
		select {}
	}
	if err != nil {
		if errors.IsRetryable(err) {
			log.Warn().Err(err).Msg("Job not settled, leaving message for redelivery")
		}
		return &exitError{code: 1, err: err}
	}
	return nil
}

func validateJob(ctx context.Context, args []string, log zerolog.Logger) error {
	if len(args) != 1 {
		return fmt.Errorf("validate takes one job id, got %d arguments", len(args))
	}
	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	registry, err := schema.Load()
	if err != nil {
		return err
	}
	q, closeQueue, err := queue.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer closeQueue()

	database, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	store := db.NewStore(database)
	tables := staging.NewTables(database, registry)

	backends, err := storage.New(cfg)
	if err != nil {
		return err
	}

	w := worker.New(worker.Deps{
		Config:    cfg,
		Registry:  registry,
		Store:     store,
		Jobs:      jobs.NewManager(store, queue.NewProducer(q), tables, queue.WorkTypeValidation, log),
		Rules:     rules.NewEngine(database, store, registry, log),
		Flex:      tables,
		NewWriter: worker.StagingWriters(database, cfg.Validator.BatchSize, log),
		Files:     backends.Files,
		Reports:   backends.Reports,
		Log:       log,
	})
	return w.Run(ctx, jobID)
}
