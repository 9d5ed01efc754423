package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dhcgn/invoice-ingest/config"
	"github.com/dhcgn/invoice-ingest/pipeline"
)

// Processor runs one ingest cycle.
type Processor interface {
	ProcessMessages(ctx context.Context) ([]pipeline.Result, error)
}

// Runner drives cycles on a fixed interval. Cycles never overlap; a transport
// failure stops the runner.
type Runner struct {
	cfg    config.Config
	proc   Processor
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron

	errMu sync.Mutex
	err   error

	cycles int
	since  time.Time
}

func New(cfg config.Config, proc Processor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	return &Runner{
		cfg:    cfg,
		proc:   proc,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start runs a cycle immediately, then one per interval until ctx is done or
// a cycle fails with a transport error, which Start returns.
func (r *Runner) Start(ctx context.Context) error {
	r.since = time.Now()
	r.ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	schedule := "@every " + r.cfg.PollInterval.String()
	if _, err := r.cron.AddFunc(schedule, r.cycle); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	r.cycle()
	if r.ctx.Err() == nil {
		r.cron.Start()
		r.logger.Info("runner scheduled", "interval", r.cfg.PollInterval)
		<-r.ctx.Done()
	}

	<-r.cron.Stop().Done()

	err := r.Err()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("runner failed", "duration", duration, "cycles", r.cycles, "err", err)
		return err
	}

	r.logger.Info("runner stopped", "duration", duration, "cycles", r.cycles)
	return nil
}

// RunOnce runs a single cycle.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	r.cycle()
	return r.Err()
}

func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) cycle() {
	if r.ctx.Err() != nil {
		return
	}
	r.cycles++

	start := time.Now()
	results, err := r.proc.ProcessMessages(r.ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrTransport) {
			r.fail(fmt.Errorf("cycle %d: %w", r.cycles, err))
			return
		}
		r.logger.Error("cycle failed", "cycle", r.cycles, "err", err)
		return
	}

	r.logger.Debug("cycle finished", "cycle", r.cycles, "messages", len(results), "duration", time.Since(start))
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
