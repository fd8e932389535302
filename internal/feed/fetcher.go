package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	fetchTimeout = 20 * time.Second
)

// Entry is one feed item. Link is empty when the item has none. Published
// is nil when neither a published nor an updated time could be parsed.
type Entry struct {
	Link      string
	Title     string
	Summary   string
	Published *time.Time
}

type Fetcher struct {
	libParser *gofeed.Parser
	log       *slog.Logger
}

func NewFetcher(log *slog.Logger) *Fetcher {
	return NewFetcherWithClient(&http.Client{Timeout: fetchTimeout}, log)
}

func NewFetcherWithClient(client *http.Client, log *slog.Logger) *Fetcher {
	libParser := gofeed.NewParser()
	libParser.Client = client
	libParser.UserAgent = userAgent

	return &Fetcher{
		libParser: libParser,
		log:       log,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	feedURL = strings.TrimSpace(feedURL)

	parsed, err := f.libParser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed (URL = %s): %w", feedURL, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		entries = append(entries, f.toEntry(ctx, feedURL, item))
	}

	f.log.DebugContext(ctx, "Feed is fetched",
		"feedURL", feedURL,
		"feedTitle", strings.TrimSpace(parsed.Title),
		"entries", len(entries))

	return entries, nil
}

func (f *Fetcher) toEntry(ctx context.Context, feedURL string, item *gofeed.Item) Entry {
	raw := item.Description
	if strings.TrimSpace(raw) == "" {
		raw = item.Content
	}

	summary, err := htmlToText(raw)
	if err != nil {
		f.log.WarnContext(ctx, "Failed to convert summary to text",
			"error", err,
			"feedURL", feedURL,
			"link", item.Link)

		summary = strings.TrimSpace(raw)
	}

	return Entry{
		Link:      strings.TrimSpace(item.Link),
		Title:     strings.TrimSpace(item.Title),
		Summary:   summary,
		Published: publishedTime(item),
	}
}

func publishedTime(item *gofeed.Item) *time.Time {
	var t *time.Time

	switch {
	case item.PublishedParsed != nil:
		t = item.PublishedParsed
	case item.UpdatedParsed != nil:
		t = item.UpdatedParsed
	default:
		return nil
	}

	utc := t.UTC()

	return &utc
}
