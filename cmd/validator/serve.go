package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"data-act-broker/internal/db"
	"data-act-broker/internal/dispatcher"
	"data-act-broker/internal/jobs"
	"data-act-broker/internal/logger"
	"data-act-broker/internal/queue"
	"data-act-broker/internal/schema"
	"data-act-broker/internal/staging"
	"data-act-broker/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// jobValidate is the child job that runs one validation job id.
const jobValidate = "validate"

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Get()
	ctx := context.Background()

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
	manager := jobs.NewManager(store, queue.NewProducer(q), staging.NewTables(database, schema.MustLoad()), queue.WorkTypeValidation, log)

	runner, err := dispatcher.NewExecRunner()
	if err != nil {
		return err
	}
	route := dispatcher.ByAttribute(dispatcher.WorkTypeSelector(map[string]string{
		queue.WorkTypeValidation: jobValidate,
	}, queue.WorkTypeValidation))

	d, err := dispatcher.New(q, runner, route, dispatcher.Config{
		VisibilityTimeout: time.Duration(cfg.Queue.DefaultVisibilityTimeout) * time.Second,
		LongPoll:          time.Duration(cfg.Queue.LongPollSeconds) * time.Second,
		MonitorSleep:      time.Duration(cfg.Queue.MonitorSleepTime) * time.Second,
		AllowRetries:      cfg.Queue.AllowRetries,
	}, worker.ExitHandler(manager, log), log)
	if err != nil {
		return &exitError{code: 1, err: err}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signals)

	g, gctx := errgroup.WithContext(ctx)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: promhttp.Handler(),
	}
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			log.Info().Int("port", cfg.Metrics.Port).Msg("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var code int
	g.Go(func() error {
		defer metricsServer.Shutdown(context.Background())
		var runErr error
		code, runErr = d.Run(gctx, signals)
		return runErr
	})

	err = g.Wait()
	if err != nil {
		log.Error().Err(err).Int("exit_code", code).Msg("Dispatcher stopped")
		if code == 0 {
			code = 1
		}
	}
	log.Info().Int("exit_code", code).Msg("Dispatcher exited")
	if code == 0 {
		return nil
	}
	return &exitError{code: processExitCode(code), err: err}
}

// processExitCode turns a dispatcher code into a process status; a
// negative code -s becomes 128+s as a shell reports a signal death.
func processExitCode(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code
}
