package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/jdubz/job-finder/internal/config"
	"github.com/jdubz/job-finder/internal/dedupcache"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/ingest"
	"github.com/jdubz/job-finder/internal/queue"
	"github.com/jdubz/job-finder/internal/stoplist"
)

func testServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Webhook.Secret = "test-secret"
	cfg.Webhook.ReplayWindowSec = 300

	gw := docstore.NewMemory()
	qm := queue.NewMemory()
	sl := stoplist.NewLoader(gw, time.Minute, stoplist.Snapshot{}, nil)
	cache := dedupcache.New(time.Hour, 1000)
	intake := ingest.New(gw, cache, sl, qm)

	return NewServer(cfg, gw, intake, nil, nil), cfg
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// fakeReplayStore is an in-memory replayStore for exercising
// verifySignature's replay rejection without a live Redis server.
type fakeReplayStore struct {
	seen map[string]bool
}

func newFakeReplayStore() *fakeReplayStore {
	return &fakeReplayStore{seen: map[string]bool{}}
}

func (f *fakeReplayStore) SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func TestIngestJobAcceptsValidSignature(t *testing.T) {
	srv, cfg := testServer(t)

	body, err := json.Marshal(map[string]string{"url": "https://example.com/jobs/1", "company_name": "Acme"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ingest/job", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ingest-Signature", sign(cfg.Webhook.Secret, body))

	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngestJobRejectsBadSignature(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(map[string]string{"url": "https://example.com/jobs/1"})
	req := httptest.NewRequest(http.MethodPost, "/ingest/job", bytes.NewReader(body))
	req.Header.Set("X-Ingest-Signature", "not-the-right-signature")

	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestJobRejectsMalformedBody(t *testing.T) {
	srv, cfg := testServer(t)

	body := []byte(`{"url": ""}`)
	req := httptest.NewRequest(http.MethodPost, "/ingest/job", bytes.NewReader(body))
	req.Header.Set("X-Ingest-Signature", sign(cfg.Webhook.Secret, body))

	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestIngestJobRejectsReplayedRequest proves a second delivery of the
// exact same body+signature within the window is rejected (spec §6).
// It wires verifySignature to a fakeReplayStore directly since testServer
// always runs with rdb=nil (replay tracking off) to keep the other tests
// independent of Redis.
func TestIngestJobRejectsReplayedRequest(t *testing.T) {
	srv, cfg := testServer(t)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/ingest/job", srv.verifySignature(newFakeReplayStore()), srv.ingestJobHandler)

	body, err := json.Marshal(map[string]string{"url": "https://example.com/jobs/1", "company_name": "Acme"})
	require.NoError(t, err)
	sig := sign(cfg.Webhook.Secret, body)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/ingest/job", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Ingest-Signature", sig)
		return req
	}

	first, err := app.Test(newReq(), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := app.Test(newReq(), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, second.StatusCode)
}

func TestHealthzShallow(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthzDeepChecksGateway(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz?deep=true", nil)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "ok", payload["status"])
	require.Equal(t, "disabled", payload["redis"])
}

func TestMetricsEndpointServesText(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
