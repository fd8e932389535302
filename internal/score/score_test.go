package score_test

import (
	"strings"
	"testing"

	"github.com/iverpak/quantbrief-daily/internal/config"
	"github.com/iverpak/quantbrief-daily/internal/score"
)

func newScorer(t *testing.T) *score.Scorer {
	t.Helper()

	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("failed to load default catalog: %v", err)
	}

	return score.New(catalog.Scoring, catalog.CompanyTokens())
}

func TestScoreRejectsSpamKeywordInTitle(t *testing.T) {
	s := newScorer(t)

	got := s.Score(score.Input{
		Title:  "Talen Energy Beats Estimates - MarketBeat",
		Domain: "marketbeat.com",
		Ticker: "TLN",
	})
	if got != 0 {
		t.Fatalf("expected spam to score 0, got %v", got)
	}
}

func TestScoreRejectsSpamDomainRegardlessOfContent(t *testing.T) {
	s := newScorer(t)

	for _, domain := range []string{"www.newser.com", "khodrobank.com", "WWW.MARKETBEAT.COM"} {
		got := s.Score(score.Input{
			Title:       "TLN: Talen Energy reports record quarterly results",
			Domain:      domain,
			Ticker:      "TLN",
			Description: strings.Repeat("Talen Energy reported results. ", 5),
		})
		if got != 0 {
			t.Fatalf("expected spam domain %q to score 0, got %v", domain, got)
		}
	}
}

func TestScoreRejectsSpamKeywordInDescription(t *testing.T) {
	s := newScorer(t)

	got := s.Score(score.Input{
		Title:       "Talen Energy shares rise",
		Domain:      "reuters.com",
		Ticker:      "TLN",
		Description: "Originally published on Newser",
	})
	if got != 0 {
		t.Fatalf("expected spam keyword in description to score 0, got %v", got)
	}
}

func TestScoreClampsToMaximum(t *testing.T) {
	s := newScorer(t)

	got := s.Score(score.Input{
		Title:       "TLN: Talen Energy reports Q3 results",
		Domain:      "reuters.com",
		Ticker:      "TLN",
		Description: strings.Repeat("x", 80),
	})
	if got != 100 {
		t.Fatalf("expected clamped score 100, got %v", got)
	}
}

func TestScoreAdditiveRules(t *testing.T) {
	s := newScorer(t)

	tests := []struct {
		name string
		in   score.Input
		want float64
	}{
		{
			name: "base only",
			in:   score.Input{Title: "Short", Domain: "example.com", Ticker: "TLN"},
			want: 50,
		},
		{
			name: "top tier substring",
			in:   score.Input{Title: "Short", Domain: "www.reuters.com", Ticker: "TLN"},
			want: 75,
		},
		{
			name: "ticker in title is matched uppercased",
			in:   score.Input{Title: "tln up", Domain: "example.com", Ticker: "TLN"},
			want: 60,
		},
		{
			name: "company token is case sensitive",
			in:   score.Input{Title: "talen up", Domain: "example.com", Ticker: "TLN"},
			want: 50,
		},
		{
			name: "company token",
			in:   score.Input{Title: "Talen up", Domain: "example.com", Ticker: "TLN"},
			want: 60,
		},
		{
			name: "sponsored penalty",
			in:   score.Input{Title: "Sponsored", Domain: "example.com", Ticker: "TLN"},
			want: 20,
		},
		{
			name: "long title and description",
			in: score.Input{
				Title:       "A title that is longer than twenty",
				Domain:      "example.com",
				Ticker:      "TLN",
				Description: strings.Repeat("d", 51),
			},
			want: 60,
		},
		{
			name: "penalty applies once for several keywords",
			in:   score.Input{Title: "Ad: partner content", Domain: "example.com", Ticker: ""},
			want: 20,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := s.Score(test.in); got != test.want {
				t.Fatalf("unexpected score: got %v want %v", got, test.want)
			}
		})
	}
}

func TestScoreStaysInRange(t *testing.T) {
	s := newScorer(t)

	titles := []string{"", "TLN", "Talen TLN sponsored advertisement promoted", strings.Repeat("Talen TLN ", 30)}
	domains := []string{"", "reuters.com", "cnbc.example", "marketbeat.com", "example.org"}
	descriptions := []string{"", strings.Repeat("z", 400)}

	for _, title := range titles {
		for _, domain := range domains {
			for _, desc := range descriptions {
				got := s.Score(score.Input{Title: title, Domain: domain, Ticker: "TLN", Description: desc})
				if got < 0 || got > 100 {
					t.Fatalf("score out of range for (%q, %q): %v", title, domain, got)
				}
			}
		}
	}
}

func TestScoreQualityDomainNeverDecreasesScore(t *testing.T) {
	s := newScorer(t)

	titles := []string{"Short", "Sponsored", "TLN: Talen Energy reports Q3 results", "Talen"}
	for _, title := range titles {
		plain := s.Score(score.Input{Title: title, Domain: "example.com", Ticker: "TLN"})
		quality := s.Score(score.Input{Title: title, Domain: "bloomberg.com", Ticker: "TLN"})

		if quality < plain {
			t.Fatalf("quality domain decreased score for %q: %v < %v", title, quality, plain)
		}
	}
}
