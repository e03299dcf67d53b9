// Package companyenrich implements a default company.EnrichmentAdapter
// (spec §6 enrich(name, website) -> CompanyFacts). The core treats this
// adapter as external and duck-typed, but a runnable worker still
// needs a concrete implementation: this one fetches the company's
// website and takes the About text from its meta description (or
// og:description) tag; size and HQ are not extracted. Grounded on the same net/http+goquery shape as
// internal/scraper's HTTPScraper, including that package's tagged
// error taxonomy so a fetch failure is distinguishable from "nothing
// to enrich" at the call site.
package companyenrich

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

	"github.com/jdubz/job-finder/internal/company"
)

const (
	KindTransient   = "TRANSIENT"
	KindBlocked     = "BLOCKED"
	KindParseFailed = "PARSE_FAILED"
)

// EnrichError tags an enrichment failure so company.Resolver can tell
// a genuine fetch/parse failure (mark AnalysisFailed) apart from an
// empty website (nothing to enrich, not a failure).
type EnrichError struct {
	kind string
	msg  string
}

func (e *EnrichError) Error() string { return e.msg }
func (e *EnrichError) Kind() string  { return e.kind }

func transientErr(format string, args ...any) error {
	return &EnrichError{kind: KindTransient, msg: fmt.Sprintf(format, args...)}
}

func blockedErr(format string, args ...any) error {
	return &EnrichError{kind: KindBlocked, msg: fmt.Sprintf(format, args...)}
}

func parseFailedErr(format string, args ...any) error {
	return &EnrichError{kind: KindParseFailed, msg: fmt.Sprintf(format, args...)}
}

var blockedStatusCodes = map[int]bool{403: true, 429: true, 503: true}

// Fetcher fetches a company's public website and extracts best-effort
// facts from its markup.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New constructs a Fetcher with the given per-request timeout.
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "job-finder-bot/1.0 (+https://example.invalid/bot)",
	}
}

// Enrich implements company.EnrichmentAdapter. An empty website is not
// a failure (there is nothing to enrich); a fetch or parse failure
// returns a tagged EnrichError so the caller can mark the company
// record's analysis as failed rather than silently complete.
func (f *Fetcher) Enrich(ctx context.Context, name, website string) (company.Facts, error) {
	if strings.TrimSpace(website) == "" {
		return company.Facts{}, nil
	}

	u, err := url.Parse(website)
	if err != nil {
		return company.Facts{}, parseFailedErr("parse website url: %v", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return company.Facts{}, transientErr("build request: %v", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return company.Facts{}, transientErr("fetch %s: %v", u, err)
	}
	defer resp.Body.Close()

	if blockedStatusCodes[resp.StatusCode] {
		return company.Facts{}, blockedErr("fetch %s: blocked with status %d", u, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return company.Facts{}, transientErr("fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return company.Facts{}, transientErr("read body %s: %v", u, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return company.Facts{}, parseFailedErr("parse html %s: %v", u, err)
	}

	about := firstNonEmpty(
		strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", "")),
		strings.TrimSpace(doc.Find("meta[property='og:description']").AttrOr("content", "")),
	)

	return company.Facts{About: truncate(about, 2000)}, nil
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
