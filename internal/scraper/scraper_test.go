package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScrapeJobExtractsTitleAndMarkdownDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head>
			<meta property="og:title" content="Backend Engineer">
		</head><body>
			<div class="job-description">
				<h2>About the role</h2>
				<ul><li>Write Go</li><li>Ship things</li></ul>
			</div>
		</body></html>`))
	}))
	defer srv.Close()

	s := NewHTTPScraper(5 * time.Second)
	detail, err := s.ScrapeJob(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Backend Engineer", detail.Title)
	require.Contains(t, detail.Description, "Write Go")
	require.True(t, strings.Contains(detail.Description, "*") || strings.Contains(detail.Description, "-"))
}

func TestScrapeJobMissingTitleIsParseFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>no title here</p></body></html>`))
	}))
	defer srv.Close()

	s := NewHTTPScraper(5 * time.Second)
	_, err := s.ScrapeJob(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, KindParseFailed, err.(*ScrapeError).Kind())
}

func TestScrapeJobBlockedStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTTPScraper(5 * time.Second)
	_, err := s.ScrapeJob(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, KindBlocked, err.(*ScrapeError).Kind())
}

func TestScrapeJobServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPScraper(5 * time.Second)
	_, err := s.ScrapeJob(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, KindTransient, err.(*ScrapeError).Kind())
}
