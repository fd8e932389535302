package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/iverpak/quantbrief-daily/internal/config"
)

func TestDefaultCatalog(t *testing.T) {
	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}

	tln, ok := catalog.Tickers["TLN"]
	if !ok || len(tln.Feeds) != 3 {
		t.Fatalf("expected 3 TLN feeds, got %+v", catalog.Tickers)
	}
	if got := catalog.CompanyTokens()["TLN"]; got != "Talen" {
		t.Fatalf("unexpected company token: %q", got)
	}

	if !slices.Contains(catalog.Scoring.SpamDomains, "marketbeat.com") {
		t.Fatalf("expected marketbeat.com to be a spam domain")
	}
	if !slices.Contains(catalog.Scoring.QualityDomains, "reuters.com") {
		t.Fatalf("expected reuters.com to be a quality domain")
	}
	if !slices.Contains(catalog.Cleaning.TitleSuffixes, " - MarketBeat") {
		t.Fatalf("expected MarketBeat title suffix")
	}
	if len(catalog.Resolver.Redirectors) == 0 || catalog.Resolver.Redirectors[0].Host != "news.google.com" {
		t.Fatalf("unexpected redirectors: %+v", catalog.Resolver.Redirectors)
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	raw := []byte(`
tickers:
  nvda:
    company: Nvidia
    feeds:
      - url: https://example.com/nvda.rss
        name: NVDA
  aapl:
    feeds:
      - url: https://example.com/aapl.rss
`)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	catalog, err := config.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}

	if got := catalog.Symbols(); !slices.Equal(got, []string{"AAPL", "NVDA"}) {
		t.Fatalf("expected upper-cased sorted symbols, got %v", got)
	}

	tokens := catalog.CompanyTokens()
	if len(tokens) != 1 || tokens["NVDA"] != "Nvidia" {
		t.Fatalf("unexpected company tokens: %v", tokens)
	}
}

func TestParseCatalogRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"malformed yaml": "tickers: [",
		"feed without url": `
tickers:
  TLN:
    feeds:
      - name: no url
`,
		"empty symbol": `
tickers:
  " ":
    feeds: []
`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := config.ParseCatalog([]byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := config.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
