// Package clean strips feed boilerplate from titles and descriptions before
// they are shown in a digest.
package clean

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/iverpak/quantbrief-daily/internal/config"
	"mvdan.cc/xurls/v2"
)

const (
	minDescriptionChars = 20
	maxExcerptChars     = 200
)

var (
	tickerTagRe      = regexp.MustCompile(`\s*\$[A-Z]{1,5}\b\s*-?\s*`)
	whitespaceRe     = regexp.MustCompile(`[\s\x{00A0}]+`)
	sourceBoundaryRe = regexp.MustCompile(`(?s)(?:\s{2,}|\x{00A0})+\p{Lu}.*$`)
	sourcePrefixRe   = regexp.MustCompile(`^[^:]+:\s*--\s*`)
	domainPrefixRe   = regexp.MustCompile(`^[^.]+\.com\s*--\s*`)
	firstSentenceRe  = regexp.MustCompile(`(?s)^(.*?[.!?])\s.*$`)

	collapseWhitespaceRule = Rule{Name: "collapse whitespace", Pattern: whitespaceRe, Replace: " "}
)

// Rule is one regexp replacement. Rules are applied in order and the result
// is trimmed after each one.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

type Cleaner struct {
	titleRules      []Rule
	aggregatorRules []Rule
	directRules     []Rule
	urlRule         Rule
	aggregators     map[string]struct{}
	sourceNames     map[string]struct{}
}

func New(tables config.Cleaning) *Cleaner {
	c := &Cleaner{
		aggregators: make(map[string]struct{}, len(tables.Aggregators)),
		sourceNames: make(map[string]struct{}, len(tables.SourceNames)),
		urlRule:     Rule{Name: "strip urls", Pattern: xurls.Strict(), Replace: ""},
	}

	for _, suffix := range tables.TitleSuffixes {
		if suffix == "" {
			continue
		}

		c.titleRules = append(c.titleRules, Rule{
			Name:    "strip suffix " + strings.TrimPrefix(suffix, " - "),
			Pattern: regexp.MustCompile(regexp.QuoteMeta(suffix) + `$`),
		})
	}
	c.titleRules = append(c.titleRules,
		Rule{Name: "strip ticker tags", Pattern: tickerTagRe, Replace: " "},
		collapseWhitespaceRule,
	)

	for _, host := range tables.Aggregators {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			c.aggregators[host] = struct{}{}
		}
	}

	quoted := make([]string, 0, len(tables.SourceNames))
	for _, name := range tables.SourceNames {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}

		c.sourceNames[strings.ToLower(name)] = struct{}{}
		quoted = append(quoted, regexp.QuoteMeta(name))
	}

	c.aggregatorRules = []Rule{{Name: "cut at source boundary", Pattern: sourceBoundaryRe}}
	if len(quoted) > 0 {
		c.aggregatorRules = append(c.aggregatorRules, Rule{
			Name:    "strip trailing source names",
			Pattern: regexp.MustCompile(`(?s)\s+(?:` + strings.Join(quoted, "|") + `)\b.*$`),
		})
	}
	c.aggregatorRules = append(c.aggregatorRules, collapseWhitespaceRule)

	c.directRules = []Rule{
		{Name: "strip source prefix", Pattern: sourcePrefixRe},
		{Name: "strip domain prefix", Pattern: domainPrefixRe},
		{Name: "keep first sentence", Pattern: firstSentenceRe, Replace: "$1"},
		collapseWhitespaceRule,
	}

	return c
}

func (c *Cleaner) TitleRules() []Rule {
	return c.titleRules
}

// DescriptionRules returns the rules Description applies for source, in
// order.
func (c *Cleaner) DescriptionRules(source string) []Rule {
	branch := c.directRules
	if c.IsAggregator(source) {
		branch = c.aggregatorRules
	}

	rules := make([]Rule, 0, len(branch)+1)
	rules = append(rules, c.urlRule)

	return append(rules, branch...)
}

func (c *Cleaner) IsAggregator(source string) bool {
	_, ok := c.aggregators[strings.ToLower(strings.TrimSpace(source))]

	return ok
}

// Title never returns an empty string for a non-empty raw title.
func (c *Cleaner) Title(raw string) string {
	cleaned := Apply(c.titleRules, raw)
	if cleaned == "" {
		return Truncate(raw)
	}

	return cleaned
}

// Description returns "" when nothing worth showing is left.
func (c *Cleaner) Description(raw string, source string) string {
	cleaned := Apply(c.DescriptionRules(source), raw)

	if utf8.RuneCountInString(cleaned) < minDescriptionChars {
		return ""
	}
	if _, ok := c.sourceNames[strings.ToLower(cleaned)]; ok {
		return ""
	}

	return Truncate(cleaned)
}

func Apply(rules []Rule, s string) string {
	s = strings.TrimSpace(s)
	for _, r := range rules {
		s = strings.TrimSpace(r.Pattern.ReplaceAllString(s, r.Replace))
	}

	return s
}

func Truncate(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")

	runes := []rune(normalized)
	if len(runes) <= maxExcerptChars {
		return normalized
	}

	trimmed := strings.TrimSpace(string(runes[:maxExcerptChars]))
	if trimmed == "" {
		return normalized
	}

	return trimmed + "..."
}
