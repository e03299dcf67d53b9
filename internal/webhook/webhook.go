// Package webhook exposes the HTTP surface named in spec §6: the
// HMAC-signed /ingest/job endpoint, a /healthz liveness/readiness
// check, and a Prometheus-text /metrics endpoint. Grounded on the
// teacher's internal/http/router.go Fiber app construction (Locals
// injection, a combined request-logging+metrics middleware, the same
// shallow/deep /healthz shape and /metrics handler), retargeted from
// raito's API-key bearer auth to the spec's raw-body HMAC-SHA256
// signature check with a replay window.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jdubz/job-finder/internal/config"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/ingest"
	"github.com/jdubz/job-finder/internal/metrics"
	"github.com/jdubz/job-finder/internal/queue"
)

// Server wraps the Fiber app exposing the ingest webhook, health, and
// metrics endpoints.
type Server struct {
	app    *fiber.App
	cfg    *config.Config
	gw     docstore.Gateway
	intake *ingest.Intake
	logger *slog.Logger
}

type pinger interface {
	Ping(ctx context.Context) error
}

// replayStore tracks which signatures have already been accepted within
// the replay window, so a second delivery of the exact same body+signature
// is rejected (spec §6 "replays with the same body+signature within a
// 5-minute window are rejected"). redisReplayStore is the production
// implementation; tests use an in-memory fake.
type replayStore interface {
	// SeenBefore atomically records key and reports whether it was
	// already present before this call.
	SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type redisReplayStore struct {
	rdb *redis.Client
}

func (r *redisReplayStore) SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ingestRequest is the webhook body shape (spec §6).
type ingestRequest struct {
	URL         string `json:"url"`
	CompanyName string `json:"company_name"`
	Website     string `json:"website"`
	SourceLabel string `json:"source_label"`
}

type ingestResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	ID     string `json:"id,omitempty"`
}

// NewServer builds the Fiber app. rdb may be nil when Redis is not
// configured, disabling rate limiting and reporting Redis as disabled
// in the deep health check.
func NewServer(cfg *config.Config, gw docstore.Gateway, intake *ingest.Intake, rdb *redis.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	s := &Server{app: app, cfg: cfg, gw: gw, intake: intake, logger: logger}

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("gateway", gw)
		return c.Next()
	})

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Path(), status, latency.Milliseconds())

		logger.Info("request",
			"request_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency_ms", latency.Milliseconds(),
		)
		return err
	})

	app.Get("/healthz", s.healthzHandler(rdb))
	app.Get("/metrics", metricsHandler)

	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(rdb, 60, time.Minute)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	var replay replayStore
	if rdb != nil {
		replay = &redisReplayStore{rdb: rdb}
	}

	app.Post("/ingest/job", rateMw, s.verifySignature(replay), s.ingestJobHandler)

	return s
}

// Listen starts the HTTP server, blocking until it stops.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

func metricsHandler(c *fiber.Ctx) error {
	c.Type("text/plain")
	return c.SendString(metrics.Export())
}

func (s *Server) healthzHandler(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if p, ok := s.gw.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				dbStatus = "error"
			}
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	}
}

// verifySignature implements spec §6's webhook authentication: the raw
// body is HMAC-SHA256 signed with the shared secret and hex-encoded in
// X-Ingest-Signature. A replay of the same body+signature within the
// configured window is rejected via replay, which may be nil when Redis
// is not configured (replay tracking is then skipped, matching
// rateLimitMiddleware's no-op-without-Redis behavior).
func (s *Server) verifySignature(replay replayStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := s.cfg.Webhook.Secret
		sig := c.Get("X-Ingest-Signature")

		if secret == "" || sig == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing signature"})
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(c.Body())
		expected := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(expected), []byte(sig)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bad signature"})
		}

		if replay != nil {
			window := s.cfg.Webhook.ReplayWindowSec
			if window <= 0 {
				window = 300
			}
			key := fmt.Sprintf("jobfinder:webhook:seen:%s", sig)
			seen, err := replay.SeenBefore(c.Context(), key, time.Duration(window)*time.Second)
			if err != nil {
				s.logger.Error("webhook: replay check failed", "error", err)
			} else if seen {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "replayed request"})
			}
		}

		return c.Next()
	}
}

func (s *Server) ingestJobHandler(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request"})
	}

	candidate := ingest.Candidate{
		URL:         req.URL,
		CompanyName: req.CompanyName,
		Website:     req.Website,
		Source:      queue.SourceWebhook,
		SubmittedBy: req.SourceLabel,
	}

	outcome, err := s.intake.Ingest(c.Context(), candidate)
	if err != nil {
		s.logger.Error("webhook: ingest failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if outcome.Skipped {
		return c.Status(fiber.StatusOK).JSON(ingestResponse{Status: "skipped", Reason: outcome.Reason})
	}
	return c.Status(fiber.StatusOK).JSON(ingestResponse{Status: "queued", ID: outcome.Item.ID.String()})
}
