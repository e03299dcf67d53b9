package scraper

import (
	"bytes"
	"context"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jdubz/job-finder/internal/pipeline"
)

// RodScraper renders JS-heavy job postings with a local headless
// Chromium instance before extracting detail, used as the fallback
// engine when HTTPScraper's error is of kind BLOCKED.
type RodScraper struct {
	Timeout time.Duration
}

// NewRodScraper constructs a RodScraper that launches a fresh headless
// browser per scrape.
func NewRodScraper(timeout time.Duration) *RodScraper {
	return &RodScraper{Timeout: timeout}
}

// ScrapeJob implements pipeline.ScraperAdapter.
func (r *RodScraper) ScrapeJob(ctx context.Context, rawURL string) (pipeline.JobDetail, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return pipeline.JobDetail{}, parseFailedErr("parse url: %v", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	browser, err := newLocalRodBrowser(ctx, r.Timeout)
	if err != nil {
		return pipeline.JobDetail{}, transientErr("launch browser: %v", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := browser.Page(proto.TargetCreateTarget{URL: u.String()})
	if err != nil {
		return pipeline.JobDetail{}, transientErr("open page %s: %v", u, err)
	}
	defer func() { _ = page.Close() }()

	if err := page.WaitLoad(); err != nil {
		return pipeline.JobDetail{}, transientErr("wait load %s: %v", u, err)
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return pipeline.JobDetail{}, transientErr("read html %s: %v", u, err)
	}

	return extractJobDetail(bytes.NewBufferString(htmlStr).Bytes())
}

// newLocalRodBrowser launches a local Chromium instance inside this
// container using rod's launcher and connects to it.
func newLocalRodBrowser(ctx context.Context, timeout time.Duration) (*rod.Browser, error) {
	var l *launcher.Launcher
	if path, has := launcher.LookPath(); has {
		l = launcher.New().Bin(path)
	} else {
		l = launcher.New()
	}
	l = l.Headless(true).NoSandbox(true)

	u, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(u).Context(ctx).Timeout(timeout)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, err
	}
	return browser, nil
}
