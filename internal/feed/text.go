package feed

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlToText keeps runs of non-breaking spaces intact: aggregator items use
// them to separate the headline from the publisher name.
func htmlToText(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	if !strings.ContainsAny(raw, "<&") {
		return raw, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create document from reader: %w", err)
	}

	doc.Find("script, style").Remove()

	return strings.TrimSpace(doc.Text()), nil
}
