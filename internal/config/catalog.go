package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog holds the tables that drive seeding, scoring, cleaning and URL
// resolution.
type Catalog struct {
	Tickers  map[string]Ticker `yaml:"tickers"`
	Scoring  Scoring           `yaml:"scoring"`
	Cleaning Cleaning          `yaml:"cleaning"`
	Resolver Resolver          `yaml:"resolver"`
}

type Ticker struct {
	Company string `yaml:"company"`
	Feeds   []Feed `yaml:"feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Scoring struct {
	SpamKeywords      []string `yaml:"spam_keywords"`
	SpamDomains       []string `yaml:"spam_domains"`
	QualityDomains    []string `yaml:"quality_domains"`
	TopTierSubstrings []string `yaml:"top_tier_substrings"`
	SponsoredKeywords []string `yaml:"sponsored_keywords"`
}

type Cleaning struct {
	TitleSuffixes []string `yaml:"title_suffixes"`
	Aggregators   []string `yaml:"aggregators"`
	SourceNames   []string `yaml:"source_names"`
}

type Resolver struct {
	Redirectors []Redirector `yaml:"redirectors"`
	Wrappers    []Wrapper    `yaml:"wrappers"`
}

type Redirector struct {
	Host         string `yaml:"host"`
	PathContains string `yaml:"path_contains"`
}

// Wrapper matches links that carry the target URL in a query parameter.
type Wrapper struct {
	Hosts  []string `yaml:"hosts"`
	Path   string   `yaml:"path"`
	Params []string `yaml:"params"`
}

// LoadCatalog parses the catalog at path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (Catalog, error) {
	raw := defaultCatalog

	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("read catalog (path = %s): %w", path, err)
		}
		raw = b
	}

	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	normalized := make(map[string]Ticker, len(c.Tickers))
	for symbol, t := range c.Tickers {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			return Catalog{}, errors.New("catalog ticker symbol is empty")
		}

		for i, f := range t.Feeds {
			if strings.TrimSpace(f.URL) == "" {
				return Catalog{}, fmt.Errorf("catalog feed %d of %s has no url", i, symbol)
			}
		}

		normalized[symbol] = t
	}
	c.Tickers = normalized

	return c, nil
}

// CompanyTokens maps ticker symbol to the company-name token scored in titles.
func (c Catalog) CompanyTokens() map[string]string {
	tokens := make(map[string]string, len(c.Tickers))
	for symbol, t := range c.Tickers {
		if company := strings.TrimSpace(t.Company); company != "" {
			tokens[symbol] = company
		}
	}

	return tokens
}

func (c Catalog) Symbols() []string {
	symbols := make([]string, 0, len(c.Tickers))
	for symbol := range c.Tickers {
		symbols = append(symbols, symbol)
	}
	slices.Sort(symbols)

	return symbols
}
