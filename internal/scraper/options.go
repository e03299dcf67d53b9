package scraper

import (
	"context"

	"github.com/jdubz/job-finder/internal/pipeline"
)

// JobScraper tries the fast HTTP+goquery path first and falls back to
// a headless browser render when the static fetch comes back blocked,
// matching the spec §4.J note that BLOCKED is retryable rather than
// terminal: the fallback gives a retry a real chance of succeeding
// without waiting for the next claim.
type JobScraper struct {
	primary  pipeline.ScraperAdapter
	fallback pipeline.ScraperAdapter
}

// NewJobScraper wires the default HTTP scraper with a rod fallback.
func NewJobScraper(http *HTTPScraper, rod *RodScraper) *JobScraper {
	return &JobScraper{primary: http, fallback: rod}
}

// ScrapeJob implements pipeline.ScraperAdapter.
func (j *JobScraper) ScrapeJob(ctx context.Context, url string) (pipeline.JobDetail, error) {
	detail, err := j.primary.ScrapeJob(ctx, url)
	if err == nil {
		return detail, nil
	}
	if j.fallback == nil {
		return pipeline.JobDetail{}, err
	}
	if kinded, ok := err.(interface{ Kind() string }); !ok || kinded.Kind() != KindBlocked {
		return pipeline.JobDetail{}, err
	}
	return j.fallback.ScrapeJob(ctx, url)
}
