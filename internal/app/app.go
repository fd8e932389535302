// Package app wires the store, the ingestion pipeline, the digest batcher and
// the mailer into the operations exposed over HTTP, cron and the CLI.
package app

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/iverpak/quantbrief-daily/internal/clean"
	"github.com/iverpak/quantbrief-daily/internal/config"
	"github.com/iverpak/quantbrief-daily/internal/database"
	"github.com/iverpak/quantbrief-daily/internal/digest"
	"github.com/iverpak/quantbrief-daily/internal/domain"
	"github.com/iverpak/quantbrief-daily/internal/feed"
	"github.com/iverpak/quantbrief-daily/internal/ingest"
	"github.com/iverpak/quantbrief-daily/internal/mail"
	"github.com/iverpak/quantbrief-daily/internal/resolve"
	"github.com/iverpak/quantbrief-daily/internal/score"
)

const (
	DefaultIngestMinutes = 1440
	statsWindow          = 7 * 24 * time.Hour
	testEmailSubject     = "Quantbrief Test Email"
)

var testEmailTemplate = template.Must(template.New("test").Parse(`<html><body>
<h2>Quantbrief Test Email</h2>
<p>Your email configuration is working correctly!</p>
<p>Time: {{.}}</p>
</body></html>`))

type TestEmailResult struct {
	Status    digest.Status `json:"status"`
	Recipient string        `json:"recipient"`
	Message   string        `json:"message,omitempty"`
}

type Options struct {
	// Fetcher replaces the gofeed-backed fetcher.
	Fetcher ingest.Fetcher
	// Resolver replaces the HTTP resolver.
	Resolver ingest.Resolver
}

type App struct {
	cfg     config.Config
	catalog config.Catalog
	db      *database.Database
	mailer  *mail.Sender
	ingest  *ingest.Orchestrator
	digest  *digest.Batcher
	now     func() time.Time
	log     *slog.Logger
}

// New builds the application. db may be nil, in which case every operation
// that needs the store returns database.ErrNotConfigured.
func New(cfg config.Config, catalog config.Catalog, db *database.Database, opts Options, log *slog.Logger) *App {
	a := &App{
		cfg:     cfg,
		catalog: catalog,
		db:      db,
		mailer:  mail.New(cfg.SMTP, log),
		now:     time.Now,
		log:     log,
	}

	if db == nil {
		return a
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = feed.NewFetcher(log)
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = resolve.New(catalog.Resolver, cfg.ResolveTimeout, cfg.ResolveInterval, log)
	}

	a.ingest = ingest.New(
		fetcher,
		db,
		resolver,
		score.New(catalog.Scoring, catalog.CompanyTokens()),
		cfg.DefaultRetainDays,
		log,
	)
	a.digest = digest.New(db, a.mailer, clean.New(catalog.Cleaning), log)

	return a
}

// Seed upserts every catalog feed and returns them in ticker order.
func (a *App) Seed(ctx context.Context) ([]domain.SeededFeed, error) {
	if a.db == nil {
		return nil, database.ErrNotConfigured
	}

	seeded := []domain.SeededFeed{}
	for _, symbol := range a.catalog.Symbols() {
		for _, f := range a.catalog.Tickers[symbol].Feeds {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				name = f.URL
			}

			id, err := a.db.UpsertFeed(ctx, domain.FeedSource{
				URL:        strings.TrimSpace(f.URL),
				Name:       name,
				Ticker:     symbol,
				RetainDays: a.cfg.DefaultRetainDays,
				Active:     true,
			})
			if err != nil {
				return seeded, fmt.Errorf("upsert feed (url = %s): %w", f.URL, err)
			}

			seeded = append(seeded, domain.SeededFeed{ID: id, Ticker: symbol, Name: name})
		}
	}

	a.log.InfoContext(ctx, "Feeds are seeded",
		"feeds", len(seeded))

	return seeded, nil
}

func (a *App) Ingest(ctx context.Context, minutes int) (domain.IngestSummary, error) {
	if a.db == nil {
		return domain.IngestSummary{}, database.ErrNotConfigured
	}

	return a.ingest.Run(ctx, minutes)
}

func (a *App) Digest(ctx context.Context, minutes int) (digest.Result, error) {
	if a.db == nil {
		return digest.Result{}, database.ErrNotConfigured
	}

	return a.digest.Run(ctx, minutes)
}

func (a *App) ForceDigest(ctx context.Context) (digest.Result, error) {
	if a.db == nil {
		return digest.Result{}, database.ErrNotConfigured
	}

	return a.digest.Force(ctx)
}

// Stats covers articles found in the last seven days.
func (a *App) Stats(ctx context.Context) (domain.Stats, error) {
	if a.db == nil {
		return domain.Stats{}, database.ErrNotConfigured
	}

	return a.db.Stats(ctx, a.now().UTC().Add(-statsWindow))
}

func (a *App) ResetDigestFlags(ctx context.Context) (int64, error) {
	if a.db == nil {
		return 0, database.ErrNotConfigured
	}

	reset, err := a.db.ResetDigestFlags(ctx)
	if err != nil {
		return 0, err
	}

	a.log.InfoContext(ctx, "Digest flags are reset",
		"articles", reset)

	return reset, nil
}

// TestEmail does not need the store.
func (a *App) TestEmail(ctx context.Context) (TestEmailResult, error) {
	res := TestEmailResult{Status: digest.StatusFailed, Recipient: a.mailer.Recipient()}

	if !a.mailer.Configured() {
		res.Message = mail.ErrNotConfigured.Error()

		return res, mail.ErrNotConfigured
	}

	var body bytes.Buffer
	if err := testEmailTemplate.Execute(&body, a.now().UTC().Format(time.DateTime)); err != nil {
		return res, fmt.Errorf("render test email: %w", err)
	}

	if err := a.mailer.Send(ctx, res.Recipient, testEmailSubject, body.String()); err != nil {
		res.Message = err.Error()

		return res, nil
	}

	res.Status = digest.StatusSent

	return res, nil
}
