package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiscoverCollectsJobLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`<html><body>
			<a href="/jobs/123">Backend Engineer</a>
			<a href="/jobs/123">Backend Engineer (dup)</a>
			<a href="/about">About us</a>
			<a href="/careers/456">Frontend Engineer</a>
		</body></html>`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(5 * time.Second)
	jobs, err := a.Discover(context.Background(), srv.URL, "Acme")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "Acme", jobs[0].CompanyName)
}

func TestDiscoverRespectsRobotsDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		_, _ = w.Write([]byte(`<a href="/jobs/1">Job</a>`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(5 * time.Second)
	_, err := a.Discover(context.Background(), srv.URL, "Acme")
	require.Error(t, err)
	require.Equal(t, KindBlocked, err.(*DiscoverError).Kind())
}

func TestDiscoverBlockedStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(5 * time.Second)
	_, err := a.Discover(context.Background(), srv.URL, "Acme")
	require.Error(t, err)
	require.Equal(t, KindBlocked, err.(*DiscoverError).Kind())
}

func TestLooksLikeJobLink(t *testing.T) {
	require.True(t, looksLikeJobLink("/jobs/123"))
	require.True(t, looksLikeJobLink("/careers/openings/9"))
	require.False(t, looksLikeJobLink("/about"))
}
