package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/iverpak/quantbrief-daily/internal/domain"
)

const markSentChunkSize = 500

var articleColumns = []string{
	"id", "url", "resolved_url", "url_hash", "title", "description", "feed_id", "ticker",
	"domain", "quality_score", "published_at", "found_at", "sent_in_digest",
}

func (d *Database) DigestCandidates(ctx context.Context, q domain.DigestQuery) ([]domain.Article, error) {
	builder := d.sb.Select(articleColumns...).
		From("articles").
		Where(sq.GtOrEq{"quality_score": q.MinScore}).
		OrderBy("ticker", "quality_score desc", "id")

	if !q.FoundAfter.IsZero() {
		builder = builder.Where(sq.GtOrEq{"found_at": q.FoundAfter.UTC()})
	}
	if !q.IncludeSent {
		builder = builder.Where(sq.Eq{"sent_in_digest": false})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "DigestCandidates")

	var articles []domain.Article
	for rows.Next() {
		a, scanErr := scanArticle(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan row: %w", scanErr)
		}

		articles = append(articles, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return articles, nil
}

// MarkSent flags the given articles as sent in chunks inside one
// transaction.
func (d *Database) MarkSent(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer d.rollback(ctx, tx, "MarkSent")

	var marked int64
	for start := 0; start < len(ids); start += markSentChunkSize {
		chunk := ids[start:min(start+markSentChunkSize, len(ids))]

		query, args, buildErr := d.sb.Update("articles").
			Set("sent_in_digest", true).
			Where(sq.Eq{"id": chunk}).
			ToSql()
		if buildErr != nil {
			return 0, fmt.Errorf("build query: %w", buildErr)
		}

		res, execErr := tx.ExecContext(ctx, query, args...)
		if execErr != nil {
			return 0, fmt.Errorf("mark articles sent: %w", execErr)
		}

		n, _ := res.RowsAffected()
		marked += n
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return marked, nil
}

func (d *Database) RecordDigest(ctx context.Context, rec domain.DigestRecord) error {
	query, args, err := d.sb.Insert("digest_history").
		Columns("sent_at", "recipient", "article_count", "tickers").
		Values(rec.SentAt.UTC(), rec.Recipient, rec.ArticleCount, strings.Join(rec.Tickers, ",")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err = d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert digest record: %w", err)
	}

	return nil
}

// DigestHistory returns the most recent digest records, newest first.
func (d *Database) DigestHistory(ctx context.Context, limit uint64) ([]domain.DigestRecord, error) {
	query, args, err := d.sb.Select("sent_at", "recipient", "article_count", "tickers").
		From("digest_history").
		OrderBy("sent_at desc", "id desc").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "DigestHistory")

	var records []domain.DigestRecord
	for rows.Next() {
		var (
			rec     domain.DigestRecord
			tickers string
		)
		if err = rows.Scan(&rec.SentAt, &rec.Recipient, &rec.ArticleCount, &tickers); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec.SentAt = rec.SentAt.UTC()
		if tickers != "" {
			rec.Tickers = strings.Split(tickers, ",")
		}

		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return records, nil
}

func scanArticle(rows *sql.Rows) (domain.Article, error) {
	var (
		a           domain.Article
		feedID      sql.NullInt64
		publishedAt sql.NullTime
	)

	err := rows.Scan(&a.ID, &a.URL, &a.ResolvedURL, &a.URLHash, &a.Title, &a.Description, &feedID,
		&a.Ticker, &a.Domain, &a.QualityScore, &publishedAt, &a.FoundAt, &a.SentInDigest)
	if err != nil {
		return domain.Article{}, err
	}

	a.FeedID = feedID.Int64
	a.FoundAt = a.FoundAt.UTC()
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		a.PublishedAt = &t
	}

	return a, nil
}

func (d *Database) Stats(ctx context.Context, since time.Time) (domain.Stats, error) {
	since = since.UTC()

	var (
		stats domain.Stats
		avg   sql.NullFloat64
	)

	query, args, err := d.sb.Select("count(*)", "count(distinct ticker)", "count(distinct domain)", "avg(quality_score)").
		From("articles").
		Where(sq.GtOrEq{"found_at": since}).
		ToSql()
	if err != nil {
		return domain.Stats{}, fmt.Errorf("build query: %w", err)
	}

	err = d.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalArticles, &stats.Tickers, &stats.Domains, &avg)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("query article summary: %w", err)
	}
	if avg.Valid {
		stats.AvgQuality = &avg.Float64
	}

	if stats.LatestArticle, err = d.latestPublished(ctx, since); err != nil {
		return domain.Stats{}, err
	}

	if stats.TopDomains, err = d.topDomains(ctx, since); err != nil {
		return domain.Stats{}, err
	}

	if stats.ByTicker, err = d.tickerStats(ctx, since); err != nil {
		return domain.Stats{}, err
	}

	history, err := d.DigestHistory(ctx, 1)
	if err != nil {
		return domain.Stats{}, err
	}
	if len(history) > 0 {
		stats.LastDigest = &history[0]
	}

	return stats, nil
}

// latestPublished orders by the column instead of using max() so the SQLite
// driver still sees a timestamp column type.
func (d *Database) latestPublished(ctx context.Context, since time.Time) (*time.Time, error) {
	query, args, err := d.sb.Select("published_at").
		From("articles").
		Where(sq.GtOrEq{"found_at": since}).
		Where(sq.NotEq{"published_at": nil}).
		OrderBy("published_at desc").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var latest sql.NullTime
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&latest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("query latest article: %w", err)
	case !latest.Valid:
		return nil, nil
	}

	t := latest.Time.UTC()

	return &t, nil
}

func (d *Database) topDomains(ctx context.Context, since time.Time) ([]domain.DomainStat, error) {
	query, args, err := d.sb.Select("domain", "count(*) as article_count", "avg(quality_score)").
		From("articles").
		Where(sq.GtOrEq{"found_at": since}).
		GroupBy("domain").
		OrderBy("article_count desc", "domain").
		Limit(10).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "topDomains")

	domains := []domain.DomainStat{}
	for rows.Next() {
		var s domain.DomainStat
		if err = rows.Scan(&s.Domain, &s.Count, &s.AvgScore); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		domains = append(domains, s)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return domains, nil
}

func (d *Database) tickerStats(ctx context.Context, since time.Time) ([]domain.TickerStat, error) {
	query, args, err := d.sb.Select("ticker", "count(*)", "avg(quality_score)").
		From("articles").
		Where(sq.GtOrEq{"found_at": since}).
		GroupBy("ticker").
		OrderBy("ticker").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "tickerStats")

	tickers := []domain.TickerStat{}
	for rows.Next() {
		var s domain.TickerStat
		if err = rows.Scan(&s.Ticker, &s.Count, &s.AvgScore); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		tickers = append(tickers, s)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return tickers, nil
}
