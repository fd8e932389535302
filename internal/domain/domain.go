package domain

import "time"

// AdmissionThreshold is the lowest quality score an article needs to be
// stored and to appear in a digest.
const AdmissionThreshold = 20.0

type FeedSource struct {
	ID         int64
	URL        string
	Name       string
	Ticker     string
	RetainDays int
	Active     bool
}

type Article struct {
	ID           int64
	URL          string
	ResolvedURL  string
	URLHash      string
	Title        string
	Description  string
	FeedID       int64
	Ticker       string
	Domain       string
	QualityScore float64
	PublishedAt  *time.Time
	FoundAt      time.Time
	SentInDigest bool
}

// Link is the URL a reader should follow for the article.
func (a Article) Link() string {
	if a.ResolvedURL != "" {
		return a.ResolvedURL
	}

	return a.URL
}

type FeedStats struct {
	FeedID     int64  `json:"feed_id"`
	FeedName   string `json:"feed"`
	Processed  int    `json:"processed"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	LowQuality int    `json:"low_quality"`
	NoLink     int    `json:"no_link"`
	Stale      int    `json:"stale"`
	Errors     int    `json:"errors"`
}

type IngestSummary struct {
	RunID              string      `json:"run_id"`
	FeedsProcessed     int         `json:"feeds_processed"`
	TotalInserted      int         `json:"total_inserted"`
	TotalDuplicates    int         `json:"total_duplicates"`
	TotalLowQuality    int         `json:"total_low_quality"`
	OldArticlesDeleted int64       `json:"old_articles_deleted"`
	Feeds              []FeedStats `json:"feeds"`
}

// DigestQuery selects digest candidates. A zero FoundAfter means no lower
// bound on found_at.
type DigestQuery struct {
	FoundAfter  time.Time
	MinScore    float64
	IncludeSent bool
}

type DigestRecord struct {
	SentAt       time.Time `json:"sent_at"`
	Recipient    string    `json:"recipient"`
	ArticleCount int       `json:"article_count"`
	Tickers      []string  `json:"tickers"`
}

type SeededFeed struct {
	ID     int64  `json:"id"`
	Ticker string `json:"ticker"`
	Name   string `json:"feed"`
}

type DomainStat struct {
	Domain   string  `json:"domain"`
	Count    int64   `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

type TickerStat struct {
	Ticker   string  `json:"ticker"`
	Count    int64   `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

type Stats struct {
	TotalArticles int64         `json:"total_articles"`
	Tickers       int64         `json:"tickers"`
	Domains       int64         `json:"domains"`
	AvgQuality    *float64      `json:"avg_quality"`
	LatestArticle *time.Time    `json:"latest_article"`
	TopDomains    []DomainStat  `json:"top_domains"`
	ByTicker      []TickerStat  `json:"by_ticker"`
	// LastDigest is the most recent sent digest, whatever the window.
	LastDigest    *DigestRecord `json:"last_digest"`
}
