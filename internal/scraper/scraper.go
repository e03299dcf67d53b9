// Package scraper implements the default pipeline.ScraperAdapter (spec
// §6 scrape_job(url) -> detail): an HTTP+goquery fetch with a headless
// go-rod fallback for pages whose fetch comes back BLOCKED. Grounded
// on the teacher's internal/scraper/scraper.go HTTP+goquery extraction
// shape and rod_scraper.go's local headless-browser launch, retargeted
// from generic page scraping (markdown/links/images) to job-posting
// detail extraction (title, description, raw HTML) and tagged errors
// instead of a single opaque error return.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/jdubz/job-finder/internal/pipeline"
)

// Kind values match the taxonomy the pipeline's classifyScrapeErr
// switches on (spec §6).
const (
	KindTransient   = "TRANSIENT"
	KindBlocked     = "BLOCKED"
	KindParseFailed = "PARSE_FAILED"
)

// ScrapeError tags a scraper failure with the closed taxonomy the core
// pipeline classifies against.
type ScrapeError struct {
	kind string
	msg  string
}

func (e *ScrapeError) Error() string { return e.msg }
func (e *ScrapeError) Kind() string  { return e.kind }

func transientErr(format string, args ...any) error {
	return &ScrapeError{kind: KindTransient, msg: fmt.Sprintf(format, args...)}
}

func blockedErr(format string, args ...any) error {
	return &ScrapeError{kind: KindBlocked, msg: fmt.Sprintf(format, args...)}
}

func parseFailedErr(format string, args ...any) error {
	return &ScrapeError{kind: KindParseFailed, msg: fmt.Sprintf(format, args...)}
}

// blockedStatusCodes are HTTP responses treated as bot-blocking rather
// than a transient outage.
var blockedStatusCodes = map[int]bool{
	403: true,
	429: true,
	503: true,
}

// HTTPScraper fetches a job posting page with net/http and extracts
// title/description/raw HTML with goquery.
type HTTPScraper struct {
	client    *http.Client
	userAgent string
}

// NewHTTPScraper constructs an HTTPScraper with the given timeout and
// a default identifying user agent.
func NewHTTPScraper(timeout time.Duration) *HTTPScraper {
	return &HTTPScraper{
		client:    &http.Client{Timeout: timeout},
		userAgent: "job-finder-bot/1.0 (+https://example.invalid/bot)",
	}
}

// ScrapeJob implements pipeline.ScraperAdapter.
func (s *HTTPScraper) ScrapeJob(ctx context.Context, rawURL string) (pipeline.JobDetail, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return pipeline.JobDetail{}, parseFailedErr("parse url: %v", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return pipeline.JobDetail{}, transientErr("build request: %v", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeline.JobDetail{}, transientErr("fetch %s: %v", u, err)
	}
	defer resp.Body.Close()

	if blockedStatusCodes[resp.StatusCode] {
		return pipeline.JobDetail{}, blockedErr("fetch %s: blocked with status %d", u, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return pipeline.JobDetail{}, transientErr("fetch %s: status %d", u, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return pipeline.JobDetail{}, parseFailedErr("fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.JobDetail{}, transientErr("read body %s: %v", u, err)
	}

	return extractJobDetail(body)
}

// extractJobDetail parses raw HTML into a JobDetail, falling through a
// handful of common job-posting markup conventions for the title and
// description.
func extractJobDetail(body []byte) (pipeline.JobDetail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.JobDetail{}, parseFailedErr("parse html: %v", err)
	}

	title := firstNonEmpty(
		strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", "")),
		strings.TrimSpace(doc.Find("h1").First().Text()),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	description := descriptionMarkdown(doc)
	if description == "" {
		description = firstNonEmpty(
			strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", "")),
			strings.TrimSpace(doc.Find("main").First().Text()),
			strings.TrimSpace(doc.Find("body").First().Text()),
		)
	}

	if title == "" {
		return pipeline.JobDetail{}, parseFailedErr("no title found in document")
	}

	raw, merr := json.Marshal(string(body))
	if merr != nil {
		raw = nil
	}

	return pipeline.JobDetail{
		Title:       title,
		Description: truncate(description, 20000),
		Raw:         raw,
	}, nil
}

// descriptionMarkdown converts the first element matching a common
// job-description container into markdown so the AI scorer sees list
// and heading structure instead of a flattened text blob.
func descriptionMarkdown(doc *goquery.Document) string {
	sel := doc.Find("[class*=description]").First()
	if sel.Length() == 0 {
		sel = doc.Find("article").First()
	}
	if sel.Length() == 0 {
		return ""
	}
	html, err := sel.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return ""
	}
	converter := htmlmd.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(sel.Text())
	}
	return strings.TrimSpace(markdown)
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
