package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iverpak/quantbrief-daily/internal/digest"
	"github.com/iverpak/quantbrief-daily/internal/domain"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	ingestTimeout         = 30 * time.Minute
	digestTimeout         = 10 * time.Minute
)

type Runner interface {
	Ingest(ctx context.Context, minutes int) (domain.IngestSummary, error)
	Digest(ctx context.Context, minutes int) (digest.Result, error)
}

type Options struct {
	IngestSpec          string
	DigestSpec          string
	IngestWindowMinutes int
	DigestWindowMinutes int
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	runner Runner
	opts   Options
	log    *slog.Logger
}

// New builds a scheduler whose jobs never overlap with themselves: a tick
// that arrives while the previous run is still going is skipped.
func New(ctx context.Context, runner Runner, opts Options, log *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})),
	)

	return &Scheduler{
		ctx:    ctx,
		cron:   c,
		runner: runner,
		opts:   opts,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.IngestSpec, s.runIngest); err != nil {
		return fmt.Errorf("add ingest job (spec = %s): %w", s.opts.IngestSpec, err)
	}
	if _, err := s.cron.AddFunc(s.opts.DigestSpec, s.runDigest); err != nil {
		return fmt.Errorf("add digest job (spec = %s): %w", s.opts.DigestSpec, err)
	}

	s.cron.Start()

	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runIngest() {
	ctx, cancel := context.WithTimeout(s.ctx, ingestTimeout)
	defer cancel()

	if s.done(ctx) {
		return
	}

	summary, err := s.runner.Ingest(ctx, s.opts.IngestWindowMinutes)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to run scheduled ingestion",
			"error", err,
			"windowMinutes", s.opts.IngestWindowMinutes)

		return
	}

	s.log.InfoContext(ctx, "Scheduled ingestion is finished",
		"runID", summary.RunID,
		"feedsProcessed", summary.FeedsProcessed,
		"inserted", summary.TotalInserted)
}

func (s *Scheduler) runDigest() {
	ctx, cancel := context.WithTimeout(s.ctx, digestTimeout)
	defer cancel()

	if s.done(ctx) {
		return
	}

	res, err := s.runner.Digest(ctx, s.opts.DigestWindowMinutes)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to run scheduled digest",
			"error", err,
			"runID", res.RunID,
			"windowMinutes", s.opts.DigestWindowMinutes)

		return
	}

	s.log.InfoContext(ctx, "Scheduled digest is finished",
		"runID", res.RunID,
		"status", res.Status,
		"articles", res.Articles)
}

func (s *Scheduler) done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())

		return true
	default:
		return false
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("Cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("Cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
