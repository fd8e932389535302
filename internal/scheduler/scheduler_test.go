package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/iverpak/quantbrief-daily/internal/digest"
	"github.com/iverpak/quantbrief-daily/internal/domain"
)

type stubRunner struct {
	ingestMinutes []int
	digestMinutes []int
	err           error
}

func (r *stubRunner) Ingest(_ context.Context, minutes int) (domain.IngestSummary, error) {
	r.ingestMinutes = append(r.ingestMinutes, minutes)

	return domain.IngestSummary{RunID: "ingest"}, r.err
}

func (r *stubRunner) Digest(_ context.Context, minutes int) (digest.Result, error) {
	r.digestMinutes = append(r.digestMinutes, minutes)

	return digest.Result{RunID: "digest", Status: digest.StatusSent}, r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		IngestSpec:          "0 * * * *",
		DigestSpec:          "0 12 * * *",
		IngestWindowMinutes: 1440,
		DigestWindowMinutes: 720,
	}
}

func TestJobsPassConfiguredWindows(t *testing.T) {
	runner := &stubRunner{}
	s := New(context.Background(), runner, testOptions(), quietLogger())

	s.runIngest()
	s.runDigest()

	if len(runner.ingestMinutes) != 1 || runner.ingestMinutes[0] != 1440 {
		t.Fatalf("unexpected ingest calls: %v", runner.ingestMinutes)
	}
	if len(runner.digestMinutes) != 1 || runner.digestMinutes[0] != 720 {
		t.Fatalf("unexpected digest calls: %v", runner.digestMinutes)
	}
}

func TestJobsTolerateRunnerErrors(t *testing.T) {
	runner := &stubRunner{err: errors.New("database is locked")}
	s := New(context.Background(), runner, testOptions(), quietLogger())

	s.runIngest()
	s.runDigest()

	if len(runner.ingestMinutes) != 1 || len(runner.digestMinutes) != 1 {
		t.Fatalf("expected both jobs to run once, got %v and %v", runner.ingestMinutes, runner.digestMinutes)
	}
}

func TestJobsSkipWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &stubRunner{}
	s := New(ctx, runner, testOptions(), quietLogger())

	s.runIngest()
	s.runDigest()

	if len(runner.ingestMinutes) != 0 || len(runner.digestMinutes) != 0 {
		t.Fatalf("expected no runs after cancellation, got %v and %v", runner.ingestMinutes, runner.digestMinutes)
	}
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	opts := testOptions()
	opts.DigestSpec = "every noon"

	s := New(context.Background(), &stubRunner{}, opts, quietLogger())
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatalf("expected invalid spec to be rejected")
	}
}

func TestStartAndStop(t *testing.T) {
	s := New(context.Background(), &stubRunner{}, testOptions(), quietLogger())
	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if got := len(s.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 cron entries, got %d", got)
	}

	s.Stop()
}
