package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iverpak/quantbrief-daily/internal/app"
	"github.com/iverpak/quantbrief-daily/internal/config"
	"github.com/iverpak/quantbrief-daily/internal/database"
	"github.com/iverpak/quantbrief-daily/internal/digest"
	"github.com/iverpak/quantbrief-daily/internal/mail"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Talen Energy news</title>
    <item>
      <title>TLN: Talen Energy reports Q3 results</title>
      <link>https://reuters.com/business/energy/talen-q3</link>
      <description>` + "Talen Energy reported third quarter results ahead of analyst expectations today." + `</description>
      <pubDate>PUBDATE</pubDate>
    </item>
    <item>
      <title>Talen Energy Beats Estimates - MarketBeat</title>
      <link>https://www.marketbeat.com/instant-alerts/talen</link>
      <pubDate>PUBDATE</pubDate>
    </item>
  </channel>
</rss>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()

	body := strings.ReplaceAll(rssTemplate, "PUBDATE", time.Now().UTC().Add(-time.Hour).Format(time.RFC1123Z))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testCatalog(t *testing.T, feedURL string) config.Catalog {
	t.Helper()

	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("failed to load default catalog: %v", err)
	}

	catalog.Tickers = map[string]config.Ticker{
		"TLN": {Company: "Talen", Feeds: []config.Feed{{URL: feedURL, Name: "Local TLN feed"}}},
	}

	return catalog
}

func testConfig() config.Config {
	return config.Config{
		DefaultRetainDays:   90,
		ResolveTimeout:      time.Second,
		DigestWindowMinutes: 1440,
	}
}

func openTestDB(t *testing.T) *database.Database {
	t.Helper()

	db, err := database.Open(context.Background(), "sqlite3://"+filepath.Join(t.TempDir(), "app.db"), quietLogger())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestSeedIngestAndStats(t *testing.T) {
	ctx := context.Background()
	srv := newFeedServer(t)

	a := app.New(testConfig(), testCatalog(t, srv.URL+"/rss"), openTestDB(t), app.Options{}, quietLogger())

	seeded, err := a.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	if len(seeded) != 1 || seeded[0].Ticker != "TLN" || seeded[0].Name != "Local TLN feed" || seeded[0].ID == 0 {
		t.Fatalf("unexpected seeded feeds: %+v", seeded)
	}

	reseeded, err := a.Seed(ctx)
	if err != nil {
		t.Fatalf("second Seed returned error: %v", err)
	}
	if reseeded[0].ID != seeded[0].ID {
		t.Fatalf("expected seeding to keep feed id %d, got %d", seeded[0].ID, reseeded[0].ID)
	}

	summary, err := a.Ingest(ctx, app.DefaultIngestMinutes)
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if summary.FeedsProcessed != 1 || summary.TotalInserted != 1 || summary.TotalLowQuality != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	stats, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.TotalArticles != 1 || stats.AvgQuality == nil || *stats.AvgQuality != 100 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.TopDomains) != 1 || stats.TopDomains[0].Domain != "reuters.com" {
		t.Fatalf("unexpected top domains: %+v", stats.TopDomains)
	}
	if stats.LastDigest != nil {
		t.Fatalf("expected no digest before the first send, got %+v", stats.LastDigest)
	}

	res, err := a.Digest(ctx, 1440)
	if !errors.Is(err, mail.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without SMTP, got %v", err)
	}
	if res.Status != digest.StatusFailed || res.Articles != 1 {
		t.Fatalf("unexpected digest result: %+v", res)
	}

	reset, err := a.ResetDigestFlags(ctx)
	if err != nil {
		t.Fatalf("ResetDigestFlags returned error: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset article, got %d", reset)
	}
}

func TestOperationsWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	a := app.New(testConfig(), testCatalog(t, "https://example.com/rss"), nil, app.Options{}, quietLogger())

	checks := map[string]func() error{
		"seed": func() error {
			_, err := a.Seed(ctx)
			return err
		},
		"ingest": func() error {
			_, err := a.Ingest(ctx, 60)
			return err
		},
		"digest": func() error {
			_, err := a.Digest(ctx, 60)
			return err
		},
		"force digest": func() error {
			_, err := a.ForceDigest(ctx)
			return err
		},
		"stats": func() error {
			_, err := a.Stats(ctx)
			return err
		},
		"reset": func() error {
			_, err := a.ResetDigestFlags(ctx)
			return err
		},
	}

	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			if err := check(); !errors.Is(err, database.ErrNotConfigured) {
				t.Fatalf("expected ErrNotConfigured, got %v", err)
			}
		})
	}
}

func TestTestEmailWithoutSMTP(t *testing.T) {
	a := app.New(testConfig(), testCatalog(t, "https://example.com/rss"), nil, app.Options{}, quietLogger())

	res, err := a.TestEmail(context.Background())
	if !errors.Is(err, mail.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if res.Status != digest.StatusFailed {
		t.Fatalf("unexpected status: %q", res.Status)
	}
}
