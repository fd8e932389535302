// Package ingest runs one pass over the active feeds: it resolves, scores,
// deduplicates and stores every entry, then sweeps expired articles.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iverpak/quantbrief-daily/internal/dedup"
	"github.com/iverpak/quantbrief-daily/internal/domain"
	"github.com/iverpak/quantbrief-daily/internal/feed"
	"github.com/iverpak/quantbrief-daily/internal/resolve"
	"github.com/iverpak/quantbrief-daily/internal/score"
)

const (
	defaultTitle         = "No Title"
	maxDescriptionLength = 500
)

type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]feed.Entry, error)
}

type Store interface {
	ActiveFeeds(ctx context.Context) ([]domain.FeedSource, error)
	SaveArticle(ctx context.Context, a domain.Article) (bool, error)
	PurgeExpired(ctx context.Context, defaultRetainDays int, now time.Time) (int64, error)
}

type Resolver interface {
	Resolve(ctx context.Context, rawURL string) resolve.Result
}

type Scorer interface {
	Score(in score.Input) float64
}

type Orchestrator struct {
	fetcher           Fetcher
	store             Store
	resolver          Resolver
	scorer            Scorer
	defaultRetainDays int
	now               func() time.Time
	log               *slog.Logger
}

func New(
	fetcher Fetcher,
	store Store,
	resolver Resolver,
	scorer Scorer,
	defaultRetainDays int,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:           fetcher,
		store:             store,
		resolver:          resolver,
		scorer:            scorer,
		defaultRetainDays: defaultRetainDays,
		now:               time.Now,
		log:               log,
	}
}

// Run ingests every active feed in order. windowMinutes > 0 skips entries
// published before the window. Only the feed listing is fatal; everything
// else is counted and logged.
func (o *Orchestrator) Run(ctx context.Context, windowMinutes int) (domain.IngestSummary, error) {
	summary := domain.IngestSummary{RunID: uuid.NewString(), Feeds: []domain.FeedStats{}}
	log := o.log.With("runID", summary.RunID)

	feeds, err := o.store.ActiveFeeds(ctx)
	if err != nil {
		return summary, fmt.Errorf("get active feeds: %w", err)
	}

	var cutoff time.Time
	if windowMinutes > 0 {
		cutoff = o.now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)
	}

	log.InfoContext(ctx, "Ingestion is started",
		"feeds", len(feeds),
		"windowMinutes", windowMinutes)

	for _, f := range feeds {
		if ctx.Err() != nil {
			log.WarnContext(ctx, "Ingestion is interrupted",
				"error", ctx.Err())

			break
		}

		stats := o.ingestFeed(ctx, log, f, cutoff)

		summary.FeedsProcessed++
		summary.TotalInserted += stats.Inserted
		summary.TotalDuplicates += stats.Duplicates
		summary.TotalLowQuality += stats.LowQuality
		summary.Feeds = append(summary.Feeds, stats)

		log.InfoContext(ctx, "Feed is ingested",
			"feedID", f.ID,
			"feed", f.Name,
			"ticker", f.Ticker,
			"processed", stats.Processed,
			"inserted", stats.Inserted,
			"duplicates", stats.Duplicates,
			"lowQuality", stats.LowQuality,
			"noLink", stats.NoLink,
			"stale", stats.Stale,
			"errors", stats.Errors)
	}

	deleted, err := o.store.PurgeExpired(ctx, o.defaultRetainDays, o.now())
	if err != nil {
		log.ErrorContext(ctx, "Failed to purge expired articles",
			"error", err)
	}
	summary.OldArticlesDeleted = deleted

	log.InfoContext(ctx, "Ingestion is finished",
		"feedsProcessed", summary.FeedsProcessed,
		"inserted", summary.TotalInserted,
		"duplicates", summary.TotalDuplicates,
		"lowQuality", summary.TotalLowQuality,
		"deleted", summary.OldArticlesDeleted)

	return summary, nil
}

func (o *Orchestrator) ingestFeed(
	ctx context.Context,
	log *slog.Logger,
	f domain.FeedSource,
	cutoff time.Time,
) domain.FeedStats {
	stats := domain.FeedStats{FeedID: f.ID, FeedName: f.Name}

	entries, err := o.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		stats.Errors++

		log.ErrorContext(ctx, "Failed to fetch feed",
			"error", err,
			"feedID", f.ID,
			"feedURL", f.URL)

		return stats
	}

	for _, e := range entries {
		stats.Processed++

		link := strings.TrimSpace(e.Link)
		if link == "" {
			stats.NoLink++
			continue
		}

		if !cutoff.IsZero() && e.Published != nil && e.Published.Before(cutoff) {
			stats.Stale++
			continue
		}

		a := o.buildArticle(ctx, f, e, link)
		if a.QualityScore < domain.AdmissionThreshold {
			stats.LowQuality++

			log.DebugContext(ctx, "Low quality article is skipped",
				"title", a.Title,
				"domain", a.Domain,
				"score", a.QualityScore)

			continue
		}

		inserted, saveErr := o.store.SaveArticle(ctx, a)
		switch {
		case saveErr != nil:
			stats.Errors++

			log.ErrorContext(ctx, "Failed to save article",
				"error", saveErr,
				"feedID", f.ID,
				"url", link)
		case inserted:
			stats.Inserted++
		default:
			stats.Duplicates++
		}
	}

	return stats
}

func (o *Orchestrator) buildArticle(ctx context.Context, f domain.FeedSource, e feed.Entry, link string) domain.Article {
	resolved := o.resolver.Resolve(ctx, link)

	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = defaultTitle
	}

	description := truncateRunes(strings.TrimSpace(e.Summary), maxDescriptionLength)

	var published *time.Time
	if e.Published != nil {
		t := e.Published.UTC()
		published = &t
	}

	a := domain.Article{
		URL:         link,
		ResolvedURL: resolved.URL,
		URLHash:     dedup.Key(resolved.URL),
		Title:       title,
		Description: description,
		FeedID:      f.ID,
		Ticker:      f.Ticker,
		Domain:      resolved.Domain,
		PublishedAt: published,
		FoundAt:     o.now().UTC(),
	}

	a.QualityScore = o.scorer.Score(score.Input{
		Title:       a.Title,
		Domain:      a.Domain,
		Ticker:      a.Ticker,
		Description: a.Description,
	})

	return a
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
