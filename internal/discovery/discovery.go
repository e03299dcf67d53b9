// Package discovery implements the external scraper adapter's listing
// half (spec §6 scrape(source) -> iterable<raw_job>), as distinct from
// internal/scraper's scrape_job(url) -> detail half. Grounded on the
// same net/http+goquery extraction shape as internal/scraper, walking
// a source's listing page for links that look like job postings
// rather than rendering a single detail page.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
)

const (
	KindTransient = "TRANSIENT"
	KindBlocked   = "BLOCKED"
)

// DiscoverError tags a listing-scrape failure with the same taxonomy
// internal/scraper uses for detail scrapes.
type DiscoverError struct {
	kind string
	msg  string
}

func (e *DiscoverError) Error() string { return e.msg }
func (e *DiscoverError) Kind() string  { return e.kind }

// RawJob is one link discovered on a source's listing page, before the
// per-item pipeline enriches it into a JobDetail.
type RawJob struct {
	URL         string
	CompanyName string
}

// Adapter is the external scraper contract's discovery half.
type Adapter interface {
	Discover(ctx context.Context, sourceEndpoint, companyName string) ([]RawJob, error)
}

var blockedStatusCodes = map[int]bool{403: true, 429: true, 503: true}

// HTTPAdapter walks a listing page and collects anchors whose href
// looks like a job posting; the anchor text is not consulted.
type HTTPAdapter struct {
	client    *http.Client
	userAgent string
}

// NewHTTPAdapter constructs an HTTPAdapter with the given timeout.
func NewHTTPAdapter(timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		client:    &http.Client{Timeout: timeout},
		userAgent: "job-finder-bot/1.0 (+https://example.invalid/bot)",
	}
}

// jobLinkHints are substrings commonly present in job-posting URLs
// across career-page platforms (greenhouse, lever, ashby, workday).
var jobLinkHints = []string{"/jobs/", "/job/", "/careers/", "/positions/", "/openings/"}

// Discover implements Adapter.
func (h *HTTPAdapter) Discover(ctx context.Context, sourceEndpoint, companyName string) ([]RawJob, error) {
	u, err := url.Parse(sourceEndpoint)
	if err != nil {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("parse endpoint: %v", err)}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	allowed, err := h.checkRobots(ctx, u)
	if err != nil {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("fetch robots.txt for %s: %v", u.Host, err)}
	}
	if !allowed {
		return nil, &DiscoverError{kind: KindBlocked, msg: fmt.Sprintf("disallowed by robots.txt: %s", u)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("fetch %s: %v", u, err)}
	}
	defer resp.Body.Close()

	if blockedStatusCodes[resp.StatusCode] {
		return nil, &DiscoverError{kind: KindBlocked, msg: fmt.Sprintf("fetch %s: blocked with status %d", u, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("fetch %s: status %d", u, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("read body: %v", err)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &DiscoverError{kind: KindTransient, msg: fmt.Sprintf("parse html: %v", err)}
	}

	seen := make(map[string]bool)
	var out []RawJob
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if !looksLikeJobLink(href) {
			return
		}
		abs, err := u.Parse(href)
		if err != nil {
			return
		}
		link := abs.String()
		if seen[link] {
			return
		}
		seen[link] = true
		out = append(out, RawJob{URL: link, CompanyName: companyName})
	})

	return out, nil
}

// checkRobots fetches the listing page's host robots.txt and reports
// whether our user agent may fetch its path. A missing or unreadable
// robots.txt is treated as allow-all, matching the teacher's
// fetchRobots fallback.
func (h *HTTPAdapter) checkRobots(ctx context.Context, target *url.URL) (bool, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", target.Scheme, target.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true, nil
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return true, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return true, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return true, nil
	}
	path := target.Path
	if path == "" {
		path = "/"
	}
	group := data.FindGroup(h.userAgent)
	return group.Test(path), nil
}

func looksLikeJobLink(href string) bool {
	lower := strings.ToLower(href)
	for _, hint := range jobLinkHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
