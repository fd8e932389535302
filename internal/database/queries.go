package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iverpak/quantbrief-daily/internal/domain"
)

func (d *Database) UpsertFeed(ctx context.Context, f domain.FeedSource) (int64, error) {
	f.URL = strings.TrimSpace(f.URL)
	if f.URL == "" {
		return 0, errors.New("feed URL is empty")
	}

	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		f.Name = f.URL
	}

	query := d.rebind(`insert into feeds (url, name, ticker, retain_days, active)
values (?, ?, ?, ?, ?)
on conflict (url) do update set
    name = excluded.name,
    ticker = excluded.ticker,
    retain_days = excluded.retain_days,
    active = excluded.active
returning id`)

	var id int64
	err := d.db.QueryRowContext(ctx, query, f.URL, f.Name, f.Ticker, f.RetainDays, f.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert feed (URL = %s): %w", f.URL, err)
	}

	return id, nil
}

func (d *Database) ActiveFeeds(ctx context.Context) ([]domain.FeedSource, error) {
	query := d.rebind(`select id, url, name, ticker, retain_days, active
from feeds
where active = ?
order by ticker, id`)

	rows, err := d.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "ActiveFeeds")

	var feeds []domain.FeedSource
	for rows.Next() {
		var f domain.FeedSource
		if err = rows.Scan(&f.ID, &f.URL, &f.Name, &f.Ticker, &f.RetainDays, &f.Active); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.URL = strings.TrimSpace(f.URL)
		f.Name = strings.TrimSpace(f.Name)

		feeds = append(feeds, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return feeds, nil
}

// SaveArticle inserts a unless an article with the same URLHash exists and
// reports whether a row was written. The existence check and the insert
// share one transaction, and the insert itself ignores url_hash conflicts.
func (d *Database) SaveArticle(ctx context.Context, a domain.Article) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer d.rollback(ctx, tx, "SaveArticle")

	exists, err := d.articleExists(ctx, tx, a.URLHash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	query := d.rebind(`insert into articles (
    url, resolved_url, url_hash, title, description, feed_id, ticker, domain,
    quality_score, published_at, found_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
on conflict (url_hash) do nothing`)

	var feedID any
	if a.FeedID != 0 {
		feedID = a.FeedID
	}

	var publishedAt any
	if a.PublishedAt != nil {
		publishedAt = a.PublishedAt.UTC()
	}

	res, err := tx.ExecContext(ctx, query,
		a.URL, a.ResolvedURL, a.URLHash, a.Title, a.Description, feedID, a.Ticker, a.Domain,
		a.QualityScore, publishedAt, a.FoundAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

func (d *Database) rollback(ctx context.Context, tx *sql.Tx, operation string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		d.log.ErrorContext(ctx, "Failed to rollback tx",
			"error", err,
			"operation", operation)
	}
}

func (d *Database) articleExists(ctx context.Context, tx *sql.Tx, urlHash string) (bool, error) {
	var one int

	err := tx.QueryRowContext(ctx, d.rebind("select 1 from articles where url_hash = ?"), urlHash).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check article exists: %w", err)
	default:
		return true, nil
	}
}

// PurgeExpired deletes articles older than their feed's retain_days.
// Articles whose feed is gone or inactive use defaultRetainDays.
func (d *Database) PurgeExpired(ctx context.Context, defaultRetainDays int, now time.Time) (int64, error) {
	feeds, err := d.ActiveFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("get active feeds: %w", err)
	}

	now = now.UTC()

	var deleted int64
	for _, f := range feeds {
		cutoff := now.AddDate(0, 0, -f.RetainDays)

		res, execErr := d.db.ExecContext(ctx,
			d.rebind("delete from articles where feed_id = ? and found_at < ?"), f.ID, cutoff)
		if execErr != nil {
			return deleted, fmt.Errorf("delete expired articles (feedID = %d): %w", f.ID, execErr)
		}

		n, _ := res.RowsAffected()
		deleted += n
	}

	cutoff := now.AddDate(0, 0, -defaultRetainDays)
	res, err := d.db.ExecContext(ctx, d.rebind(`delete from articles
where found_at < ?
  and (feed_id is null or feed_id not in (select id from feeds where active = ?))`), cutoff, true)
	if err != nil {
		return deleted, fmt.Errorf("delete expired orphaned articles: %w", err)
	}

	n, _ := res.RowsAffected()

	return deleted + n, nil
}

func (d *Database) ResetDigestFlags(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.rebind("update articles set sent_in_digest = ?"), false)
	if err != nil {
		return 0, fmt.Errorf("reset digest flags: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get affected rows: %w", err)
	}

	return n, nil
}
