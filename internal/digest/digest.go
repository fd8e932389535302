// Package digest selects unsent qualifying articles, renders them into one
// HTML email grouped by ticker and marks them sent once delivery succeeds.
package digest

import (
	"bytes"
	"cmp"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iverpak/quantbrief-daily/internal/clean"
	"github.com/iverpak/quantbrief-daily/internal/domain"
	"github.com/iverpak/quantbrief-daily/internal/mail"
	"github.com/iverpak/quantbrief-daily/internal/resolve"
)

const (
	// MaxArticlesPerTicker caps rendered items, not selected ones.
	MaxArticlesPerTicker = 100

	DefaultWindowMinutes = 1440
	forceWindow          = 7 * 24 * time.Hour
	forceWindowDays      = 7

	unknownTicker   = "UNKNOWN"
	unknownDomain   = "unknown"
	defaultTitle    = "No Title"
	missingDate     = "N/A"
	publishedLayout = "01/02 15:04"
	generatedLayout = "2006-01-02 15:04"
)

type Status string

const (
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusNoArticles Status = "no_articles"
)

//go:embed templates/digest.html
var templatesFS embed.FS

var digestTemplate = template.Must(template.ParseFS(templatesFS, "templates/digest.html"))

type Store interface {
	DigestCandidates(ctx context.Context, q domain.DigestQuery) ([]domain.Article, error)
	MarkSent(ctx context.Context, ids []int64) (int64, error)
	RecordDigest(ctx context.Context, rec domain.DigestRecord) error
}

type Mailer interface {
	Send(ctx context.Context, to string, subject string, html string) error
	Configured() bool
	Recipient() string
}

type Result struct {
	RunID     string   `json:"run_id"`
	Status    Status   `json:"status"`
	Articles  int      `json:"articles"`
	Tickers   []string `json:"tickers"`
	Recipient string   `json:"recipient"`
	Message   string   `json:"message,omitempty"`
	Marked    int64    `json:"marked"`
}

type Batcher struct {
	store   Store
	mailer  Mailer
	cleaner *clean.Cleaner
	now     func() time.Time
	log     *slog.Logger
}

func New(store Store, mailer Mailer, cleaner *clean.Cleaner, log *slog.Logger) *Batcher {
	return &Batcher{
		store:   store,
		mailer:  mailer,
		cleaner: cleaner,
		now:     time.Now,
		log:     log,
	}
}

type run struct {
	query      domain.DigestQuery
	periodDays int
	period     string
	subject    string
	mark       bool
}

// Run sends the digest for articles found within windowMinutes and marks
// every selected row sent after the email is accepted.
func (b *Batcher) Run(ctx context.Context, windowMinutes int) (Result, error) {
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}

	window := time.Duration(windowMinutes) * time.Minute
	hours := window.Hours()

	days := 0
	if hours >= 24 {
		days = int(hours / 24)
	}

	period := fmt.Sprintf("%.0f hours", hours)
	if days > 0 {
		period = fmt.Sprintf("%d days", days)
	}

	return b.send(ctx, run{
		query: domain.DigestQuery{
			FoundAfter: b.now().UTC().Add(-window),
			MinScore:   domain.AdmissionThreshold,
		},
		periodDays: max(days, 1),
		period:     period,
		subject:    "Stock Digest",
		mark:       true,
	})
}

// Force sends every qualifying article of the last seven days, sent or not,
// and leaves the stored rows untouched.
func (b *Batcher) Force(ctx context.Context) (Result, error) {
	return b.send(ctx, run{
		query: domain.DigestQuery{
			FoundAfter:  b.now().UTC().Add(-forceWindow),
			MinScore:    domain.AdmissionThreshold,
			IncludeSent: true,
		},
		periodDays: forceWindowDays,
		period:     fmt.Sprintf("%d days", forceWindowDays),
		subject:    "FULL Stock Digest",
		mark:       false,
	})
}

func (b *Batcher) send(ctx context.Context, r run) (Result, error) {
	res := Result{RunID: uuid.NewString(), Tickers: []string{}}
	log := b.log.With("runID", res.RunID)

	if b.mailer != nil {
		res.Recipient = b.mailer.Recipient()
	}

	articles, err := b.store.DigestCandidates(ctx, r.query)
	if err != nil {
		return res, fmt.Errorf("get digest candidates: %w", err)
	}

	if len(articles) == 0 {
		res.Status = StatusNoArticles
		res.Message = "No new quality articles found in the last " + r.period

		log.InfoContext(ctx, "No articles for digest",
			"period", r.period)

		return res, nil
	}

	groups := groupByTicker(articles)
	for _, g := range groups {
		res.Tickers = append(res.Tickers, g.ticker)
	}
	res.Articles = len(articles)

	subject := fmt.Sprintf("%s: %s - %d articles", r.subject, strings.Join(res.Tickers, ", "), res.Articles)

	html, err := b.render(groups, r.periodDays)
	if err != nil {
		return res, fmt.Errorf("render digest: %w", err)
	}

	if b.mailer == nil || !b.mailer.Configured() {
		res.Status = StatusFailed
		res.Message = mail.ErrNotConfigured.Error()

		log.ErrorContext(ctx, "Digest is not sent",
			"error", mail.ErrNotConfigured,
			"articles", res.Articles)

		return res, mail.ErrNotConfigured
	}

	if err = b.mailer.Send(ctx, res.Recipient, subject, html); err != nil {
		res.Status = StatusFailed
		res.Message = err.Error()

		log.ErrorContext(ctx, "Failed to send digest",
			"error", err,
			"articles", res.Articles,
			"tickers", res.Tickers)

		return res, nil
	}

	res.Status = StatusSent

	log.InfoContext(ctx, "Digest is sent",
		"subject", subject,
		"recipient", res.Recipient,
		"articles", res.Articles,
		"tickers", res.Tickers)

	if !r.mark {
		return res, nil
	}

	res.Marked, err = b.store.MarkSent(ctx, articleIDs(articles))
	if err != nil {
		return res, fmt.Errorf("mark articles sent: %w", err)
	}

	if err = b.store.RecordDigest(ctx, domain.DigestRecord{
		SentAt:       b.now().UTC(),
		Recipient:    res.Recipient,
		ArticleCount: res.Articles,
		Tickers:      res.Tickers,
	}); err != nil {
		return res, fmt.Errorf("record digest: %w", err)
	}

	return res, nil
}

type tickerGroup struct {
	ticker   string
	articles []domain.Article
}

// groupByTicker returns groups in ticker order, each sorted by score desc
// then published desc with undated articles last.
func groupByTicker(articles []domain.Article) []tickerGroup {
	byTicker := make(map[string][]domain.Article)
	for _, a := range articles {
		ticker := a.Ticker
		if ticker == "" {
			ticker = unknownTicker
		}

		byTicker[ticker] = append(byTicker[ticker], a)
	}

	groups := make([]tickerGroup, 0, len(byTicker))
	for ticker, items := range byTicker {
		slices.SortStableFunc(items, compareArticles)
		groups = append(groups, tickerGroup{ticker: ticker, articles: items})
	}

	slices.SortFunc(groups, func(a, b tickerGroup) int {
		return cmp.Compare(a.ticker, b.ticker)
	})

	return groups
}

func compareArticles(a, b domain.Article) int {
	if c := cmp.Compare(b.QualityScore, a.QualityScore); c != 0 {
		return c
	}

	switch {
	case a.PublishedAt == nil && b.PublishedAt == nil:
		return 0
	case a.PublishedAt == nil:
		return 1
	case b.PublishedAt == nil:
		return -1
	}

	return b.PublishedAt.Compare(*a.PublishedAt)
}

func articleIDs(articles []domain.Article) []int64 {
	ids := make([]int64, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ID)
	}

	return ids
}

type digestView struct {
	PeriodDays  int
	GeneratedAt string
	Threshold   string
	Sections    []sectionView
}

type sectionView struct {
	Ticker string
	Items  []itemView
}

type itemView struct {
	Link      string
	Title     string
	Domain    string
	Published string
	Score     string
	Excerpt   string
}

func (b *Batcher) render(groups []tickerGroup, periodDays int) (string, error) {
	view := digestView{
		PeriodDays:  periodDays,
		GeneratedAt: b.now().UTC().Format(generatedLayout),
		Threshold:   fmt.Sprintf("%.0f", domain.AdmissionThreshold),
		Sections:    make([]sectionView, 0, len(groups)),
	}

	for _, g := range groups {
		section := sectionView{Ticker: g.ticker}

		for _, a := range g.articles[:min(len(g.articles), MaxArticlesPerTicker)] {
			section.Items = append(section.Items, b.item(a))
		}

		view.Sections = append(view.Sections, section)
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("execute digest template: %w", err)
	}

	return buf.String(), nil
}

func (b *Batcher) item(a domain.Article) itemView {
	title := b.cleaner.Title(a.Title)
	if title == "" {
		title = defaultTitle
	}

	host := strings.TrimPrefix(a.Domain, "www.")
	if host == "" {
		host = unknownDomain
	}

	published := missingDate
	if a.PublishedAt != nil {
		published = a.PublishedAt.UTC().Format(publishedLayout)
	}

	return itemView{
		Link:      a.Link(),
		Title:     title,
		Domain:    host,
		Published: published,
		Score:     fmt.Sprintf("%.0f", a.QualityScore),
		Excerpt:   b.cleaner.Description(a.Description, resolve.Domain(a.URL)),
	}
}
