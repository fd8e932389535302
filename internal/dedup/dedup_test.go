package dedup_test

import (
	"testing"

	"github.com/iverpak/quantbrief-daily/internal/dedup"
)

func TestKeyIgnoresCase(t *testing.T) {
	a := dedup.Key("https://www.Reuters.com/Business/Energy/Talen-123")
	b := dedup.Key("https://www.reuters.com/business/energy/talen-123")

	if a != b {
		t.Fatalf("expected case-insensitive keys to match, got %q vs %q", a, b)
	}
}

func TestKeyIgnoresTrackingParams(t *testing.T) {
	base := "https://www.reuters.com/business/energy/talen-123"

	variants := []string{
		base + "?utm_source=google&utm_medium=rss",
		base + "?ref=homepage",
		base + "?source=feed",
		base + "?UTM_CAMPAIGN=Spring",
	}

	want := dedup.Key(base)
	for _, v := range variants {
		if got := dedup.Key(v); got != want {
			t.Fatalf("expected key of %q to match base key, got %q want %q", v, got, want)
		}
	}
}

func TestKeyStripsTrailingTrackingParamAfterRealParam(t *testing.T) {
	a := dedup.Key("https://example.com/story?id=7&utm_source=x")
	b := dedup.Key("https://example.com/story?id=7")

	if a != b {
		t.Fatalf("expected trailing tracking param to be ignored, got %q vs %q", a, b)
	}
}

func TestKeyDistinguishesDifferentArticles(t *testing.T) {
	a := dedup.Key("https://example.com/story?id=7")
	b := dedup.Key("https://example.com/story?id=8")

	if a == b {
		t.Fatalf("expected different articles to have different keys")
	}
}

func TestKeyHasFixedLength(t *testing.T) {
	for _, u := range []string{"", "https://a.b", "https://example.com/" + string(make([]byte, 4096))} {
		if got := len(dedup.Key(u)); got != dedup.KeyLength {
			t.Fatalf("unexpected key length for %q: got %d want %d", u, got, dedup.KeyLength)
		}
	}
}

func TestNormalize(t *testing.T) {
	got := dedup.Normalize("  HTTPS://Example.com/A?b=1&ref=x&c=2 ")
	want := "https://example.com/a?b=1"

	if got != want {
		t.Fatalf("unexpected normalized URL: got %q want %q", got, want)
	}
}
