// Package dispatcher polls the work queue and runs each message in a fresh
// child process, keeping the message invisible while the child works.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"data-act-broker/internal/metrics"
	"data-act-broker/internal/queue"
	"data-act-broker/pkg/errors"

	"github.com/rs/zerolog"
)

type Config struct {
	VisibilityTimeout time.Duration
	LongPoll          time.Duration
	MonitorSleep      time.Duration
	AllowRetries      bool
}

// Exit describes a finished child to the exit handler.
type Exit struct {
	TaskID      string
	Job         string
	Args        []string
	ExitCode    int
	Disposition Disposition
	Message     *queue.Message
	// MaxReceiveCount is the redrive policy's receive limit.
	MaxReceiveCount int
}

// LastDelivery reports whether the queue will dead-letter the message
// instead of delivering it again once it becomes visible.
func (e Exit) LastDelivery() bool {
	return e.MaxReceiveCount > 0 && e.Message != nil && e.Message.ReceiveCount >= e.MaxReceiveCount
}

// ExitHandler runs after the child exits and before the message is
// finalized.
type ExitHandler func(ctx context.Context, exit Exit) error

type Dispatcher struct {
	queue  queue.Queue
	runner ProcessRunner
	route  Route
	cfg    Config
	onExit ExitHandler
	log    zerolog.Logger

	policy *queue.RedrivePolicy

	mu     sync.Mutex
	signal os.Signal
}

// New refuses a monitor interval that is not shorter than the visibility
// timeout, since the message could reappear while still being worked.
func New(q queue.Queue, runner ProcessRunner, route Route, cfg Config, onExit ExitHandler, log zerolog.Logger) (*Dispatcher, error) {
	if cfg.MonitorSleep <= 0 || cfg.VisibilityTimeout <= 0 {
		return nil, &errors.QueueWorkDispatcherError{Message: "monitor sleep and visibility timeout must be positive"}
	}
	if cfg.MonitorSleep >= cfg.VisibilityTimeout {
		return nil, &errors.QueueWorkDispatcherError{
			Message: fmt.Sprintf("monitor sleep %s must be shorter than visibility timeout %s", cfg.MonitorSleep, cfg.VisibilityTimeout),
		}
	}
	if route == nil {
		return nil, &errors.QueueWorkDispatcherError{Message: "no route configured"}
	}
	return &Dispatcher{
		queue:  q,
		runner: runner,
		route:  route,
		cfg:    cfg,
		onExit: onExit,
		log:    log.With().Str("component", "dispatcher").Logger(),
	}, nil
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

// Run dispatches messages until ctx ends or a signal arrives on signals.
// After a signal the in-flight message is handled as if its child had been
// terminated, and the returned code is the negative signal number.
func (d *Dispatcher) Run(ctx context.Context, signals <-chan os.Signal) (int, error) {
	policy, err := d.queue.RedrivePolicy(ctx)
	if err != nil {
		return 1, fmt.Errorf("failed to read redrive policy: %w", err)
	}
	if policy == nil {
		return 1, &errors.QueueWorkDispatcherError{
			Message: "queue must declare a redrive policy",
			Err:     errors.ErrNoRedrivePolicy,
		}
	}
	d.policy = policy

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case s := <-signals:
			d.mu.Lock()
			d.signal = s
			d.mu.Unlock()
			d.log.Warn().Str("signal", s.String()).Msg("Received signal, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	d.log.Info().
		Dur("visibility_timeout", d.cfg.VisibilityTimeout).
		Dur("long_poll", d.cfg.LongPoll).
		Dur("monitor_sleep", d.cfg.MonitorSleep).
		Bool("allow_retries", d.cfg.AllowRetries).
		Msg("Dispatcher started")

	for ctx.Err() == nil {
		if err := d.DispatchOne(ctx); err != nil {
			var qerr *errors.QueueWorkDispatcherError
			if errors.As(err, &qerr) {
				return 1, err
			}
			if ctx.Err() != nil {
				break
			}
			d.log.Error().Err(err).Msg("Dispatch failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return d.exitCode(), nil
}

func (d *Dispatcher) caughtSignal() os.Signal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signal
}

func (d *Dispatcher) exitCode() int {
	if sig, ok := d.caughtSignal().(syscall.Signal); ok {
		return -int(sig)
	}
	return 0
}

// DispatchOne receives at most one message and sees it through.
func (d *Dispatcher) DispatchOne(ctx context.Context) error {
	m, err := d.queue.Receive(ctx, seconds(d.cfg.LongPoll), seconds(d.cfg.VisibilityTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}
	if m == nil {
		return nil
	}
	metrics.MessagesReceived.Inc()
	log := d.log.With().Str("message_id", m.ID).Int("receive_count", m.ReceiveCount).Logger()

	job, args, err := d.route(m)
	if err != nil {
		// Left for the redrive policy to retire.
		log.Error().Err(err).Str("body", m.Body).Msg("Cannot route message")
		metrics.Dispositions.WithLabelValues(Leave.String()).Inc()
		return nil
	}

	proc, err := d.runner.Start(ctx, job, args)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start child")
		return d.finalize(context.WithoutCancel(ctx), m, job, args, 1, log)
	}
	log = log.With().Str("job", job).Int("pid", proc.Pid()).Logger()
	log.Info().Strs("args", args).Msg("Child started")

	code := d.monitor(ctx, m, proc, log)
	return d.finalize(context.WithoutCancel(ctx), m, job, args, code, log)
}

// monitor waits for the child, extending the message's visibility on every
// wake-up. On cancellation the child gets SIGTERM and the returned code is
// the negative signal that stopped the dispatcher.
func (d *Dispatcher) monitor(ctx context.Context, m *queue.Message, proc Process, log zerolog.Logger) int {
	ticker := time.NewTicker(d.cfg.MonitorSleep)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			code := proc.ExitCode()
			log.Info().Int("exit_code", code).Msg("Child exited")
			return code

		case <-ticker.C:
			if err := d.queue.ChangeVisibility(ctx, m, seconds(d.cfg.VisibilityTimeout)); err != nil {
				log.Error().Err(err).Msg("Failed to extend message visibility")
			}

		case <-ctx.Done():
			log.Warn().Msg("Forwarding SIGTERM to child")
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				log.Error().Err(err).Msg("Failed to signal child")
			}
			<-proc.Done()

			sig, ok := d.caughtSignal().(syscall.Signal)
			if !ok {
				sig = syscall.SIGTERM
			}
			return -int(sig)
		}
	}
}

func (d *Dispatcher) finalize(ctx context.Context, m *queue.Message, job string, args []string, code int, log zerolog.Logger) error {
	metrics.ChildExits.WithLabelValues(strconv.Itoa(code)).Inc()

	maxReceive := 0
	if d.policy != nil {
		maxReceive = d.policy.MaxReceiveCount
	}
	exhausted := RetriesExhausted(d.cfg.AllowRetries, m.ReceiveCount, maxReceive)
	disposition, decideErr := Decide(code, exhausted, d.policy != nil)

	if d.onExit != nil {
		exit := Exit{
			TaskID:          m.ID,
			Job:             job,
			Args:            args,
			ExitCode:        code,
			Disposition:     disposition,
			Message:         m,
			MaxReceiveCount: maxReceive,
		}
		if err := d.onExit(ctx, exit); err != nil {
			log.Error().Err(err).Msg("Exit handler failed")
		}
	}

	if decideErr != nil {
		log.Error().Err(decideErr).Int("exit_code", code).Msg("Leaving message for the queue")
		metrics.Dispositions.WithLabelValues(Leave.String()).Inc()
		return decideErr
	}

	var err error
	switch disposition {
	case Delete:
		err = d.queue.Delete(ctx, m)
	case ReturnNow:
		err = d.queue.ChangeVisibility(ctx, m, 0)
	case DeadLetter:
		err = d.queue.SendToDeadLetter(ctx, m)
	case Leave:
	}
	if err != nil {
		return fmt.Errorf("failed to %s message %s: %w", disposition, m.ID, err)
	}

	metrics.Dispositions.WithLabelValues(disposition.String()).Inc()
	log.Info().Int("exit_code", code).Str("disposition", disposition.String()).Msg("Message finalized")
	return nil
}
