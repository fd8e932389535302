package score

import (
	"strings"
	"unicode/utf8"

	"github.com/iverpak/quantbrief-daily/internal/config"
)

const (
	baseScore = 50.0
	minScore  = 0.0
	maxScore  = 100.0

	qualityDomainBonus  = 30.0
	topTierDomainBonus  = 25.0
	tickerInTitleBonus  = 10.0
	companyInTitleBonus = 10.0
	sponsoredPenalty    = 30.0
	substanceBonus      = 5.0

	substantialTitleLen       = 20
	substantialDescriptionLen = 50
)

type Input struct {
	Title       string
	Domain      string
	Ticker      string
	Description string
}

type Scorer struct {
	spamKeywords      []string
	spamDomains       map[string]struct{}
	qualityDomains    map[string]struct{}
	topTierSubstrings []string
	sponsoredKeywords []string
	companyTokens     map[string]string
}

func New(tables config.Scoring, companyTokens map[string]string) *Scorer {
	return &Scorer{
		spamKeywords:      lowered(tables.SpamKeywords),
		spamDomains:       set(tables.SpamDomains),
		qualityDomains:    set(tables.QualityDomains),
		topTierSubstrings: lowered(tables.TopTierSubstrings),
		sponsoredKeywords: lowered(tables.SponsoredKeywords),
		companyTokens:     companyTokens,
	}
}

// Score is deterministic and always returns a value in [0, 100]. Spam is
// rejected before any bonus is applied.
func (s *Scorer) Score(in Input) float64 {
	domain := strings.ToLower(strings.TrimSpace(in.Domain))

	if s.isSpam(in, domain) {
		return minScore
	}

	score := baseScore

	if _, ok := s.qualityDomains[domain]; ok {
		score += qualityDomainBonus
	} else if containsAny(domain, s.topTierSubstrings) {
		score += topTierDomainBonus
	}

	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	if ticker != "" && strings.Contains(strings.ToUpper(in.Title), ticker) {
		score += tickerInTitleBonus
	}
	if token := s.companyTokens[ticker]; token != "" && strings.Contains(in.Title, token) {
		score += companyInTitleBonus
	}

	if containsAny(strings.ToLower(in.Title), s.sponsoredKeywords) {
		score -= sponsoredPenalty
	}

	if utf8.RuneCountInString(in.Title) > substantialTitleLen {
		score += substanceBonus
	}
	if utf8.RuneCountInString(in.Description) > substantialDescriptionLen {
		score += substanceBonus
	}

	return max(minScore, min(maxScore, score))
}

func (s *Scorer) isSpam(in Input, domain string) bool {
	content := strings.ToLower(in.Title + " " + in.Domain + " " + in.Description)
	if containsAny(content, s.spamKeywords) {
		return true
	}

	_, ok := s.spamDomains[domain]

	return ok
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}

	return false
}

func lowered(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}

	return out
}

func set(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range lowered(values) {
		m[v] = struct{}{}
	}

	return m
}
