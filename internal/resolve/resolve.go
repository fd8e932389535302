// Package resolve turns feed-entry links into the URL of the article itself.
package resolve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/iverpak/quantbrief-daily/internal/config"
	"github.com/iverpak/quantbrief-daily/internal/ratelimiter"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	maxDrainBytes = 64 << 10
)

type Result struct {
	URL    string
	Domain string
}

type Resolver struct {
	redirectors []config.Redirector
	wrappers    []config.Wrapper
	client      *http.Client
	pacer       *ratelimiter.Pacer
	cache       *resolutionCache
	now         func() time.Time
	log         *slog.Logger
}

// New spaces redirector fetches to the same host by at least interval.
func New(tables config.Resolver, timeout time.Duration, interval time.Duration, log *slog.Logger) *Resolver {
	r := NewWithClient(tables, &http.Client{Timeout: timeout}, log)
	r.pacer = ratelimiter.New(interval)

	return r
}

func NewWithClient(tables config.Resolver, client *http.Client, log *slog.Logger) *Resolver {
	return &Resolver{
		redirectors: tables.Redirectors,
		wrappers:    tables.Wrappers,
		client:      client,
		cache:       newResolutionCache(resolutionCacheMaxEntries),
		now:         time.Now,
		log:         log,
	}
}

// Resolve never fails: when a redirector cannot be followed the raw URL and
// its own domain are returned.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)

	u, err := url.Parse(rawURL)
	if err != nil {
		r.log.WarnContext(ctx, "Failed to parse URL",
			"error", err,
			"url", rawURL)

		return Result{URL: rawURL, Domain: ""}
	}

	if r.isRedirector(u) {
		return r.follow(ctx, rawURL)
	}

	if target, ok := r.unwrap(u); ok {
		return Result{URL: target, Domain: Domain(target)}
	}

	return Result{URL: rawURL, Domain: hostOf(u)}
}

func (r *Resolver) follow(ctx context.Context, rawURL string) Result {
	now := r.now()
	if cached, ok := r.cache.get(rawURL, now); ok {
		return cached
	}

	finalURL, err := r.fetchFinalURL(ctx, rawURL)
	if err != nil {
		r.log.WarnContext(ctx, "Failed to resolve URL",
			"error", err,
			"url", rawURL)

		return Result{URL: rawURL, Domain: Domain(rawURL)}
	}

	result := Result{URL: finalURL, Domain: Domain(finalURL)}
	r.cache.set(rawURL, result, now.Add(resolutionCacheTTL), now)

	return result
}

func (r *Resolver) fetchFinalURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if err = r.pacer.Wait(ctx, hostOf(req.URL)); err != nil {
		return "", fmt.Errorf("wait for host: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"url", rawURL)
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status (code = %d)", resp.StatusCode)
	}

	if resp.Request == nil || resp.Request.URL == nil {
		return rawURL, nil
	}

	return resp.Request.URL.String(), nil
}

func (r *Resolver) isRedirector(u *url.URL) bool {
	host := hostOf(u)
	for _, rd := range r.redirectors {
		if strings.EqualFold(host, rd.Host) && strings.Contains(u.Path, rd.PathContains) {
			return true
		}
	}

	return false
}

func (r *Resolver) unwrap(u *url.URL) (string, bool) {
	host := hostOf(u)
	for _, w := range r.wrappers {
		if !slices.ContainsFunc(w.Hosts, func(h string) bool { return strings.EqualFold(h, host) }) {
			continue
		}
		if u.Path != w.Path {
			continue
		}

		query := u.Query()
		for _, param := range w.Params {
			if target := strings.TrimSpace(query.Get(param)); target != "" {
				return target, true
			}
		}
	}

	return "", false
}

// Domain returns the lowercased host of rawURL, or "" when it cannot be
// parsed.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	return hostOf(u)
}

func hostOf(u *url.URL) string {
	return strings.ToLower(u.Host)
}
