package companyenrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnrichExtractsMetaDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
			<meta name="description" content="We build tools for job seekers.">
		</head><body></body></html>`))
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	facts, err := f.Enrich(context.Background(), "Acme", srv.URL)
	require.NoError(t, err)
	require.Equal(t, "We build tools for job seekers.", facts.About)
}

func TestEnrichFallsBackToOpenGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head>
			<meta property="og:description" content="Acme makes widgets.">
		</head></html>`))
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	facts, err := f.Enrich(context.Background(), "Acme", srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Acme makes widgets.", facts.About)
}

func TestEnrichReturnsTransientErrorOnUnreachableHost(t *testing.T) {
	f := New(5 * time.Second)
	facts, err := f.Enrich(context.Background(), "Acme", "http://127.0.0.1:1")
	require.Error(t, err)
	require.Equal(t, KindTransient, err.(*EnrichError).Kind())
	require.Equal(t, "", facts.About)
}

func TestEnrichReturnsBlockedErrorOnBlockedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	_, err := f.Enrich(context.Background(), "Acme", srv.URL)
	require.Error(t, err)
	require.Equal(t, KindBlocked, err.(*EnrichError).Kind())
}

func TestEnrichNeverErrorsOnEmptyWebsite(t *testing.T) {
	f := New(5 * time.Second)
	facts, err := f.Enrich(context.Background(), "Acme", "")
	require.NoError(t, err)
	require.Equal(t, "", facts.About)
}
