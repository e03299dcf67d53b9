// Package aiscorer implements the default pipeline.Scorer (spec §6
// score(profile, job, company) -> {score, priority, matched_skills,
// missing_skills, keywords, reasoning}) against Anthropic's Messages
// API. Grounded on the teacher's internal/llm/llm.go anthropicClient
// shape (stdlib net/http request/response structs, no SDK), retargeted
// from field extraction to a fixed-shape scoring response and the
// RATE_LIMITED/TIMEOUT/INVALID_RESPONSE taxonomy spec §6 names instead
// of llm.go's bare error return.
package aiscorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdubz/job-finder/internal/company"
	"github.com/jdubz/job-finder/internal/pipeline"
)

const (
	KindRateLimited     = "RATE_LIMITED"
	KindTimeout         = "TIMEOUT"
	KindInvalidResponse = "INVALID_RESPONSE"
)

// ScoreError tags a scorer failure with the closed taxonomy the core
// pipeline classifies against.
type ScoreError struct {
	kind string
	msg  string
}

func (e *ScoreError) Error() string { return e.msg }
func (e *ScoreError) Kind() string  { return e.kind }

// Client scores a job against a candidate profile using Anthropic's
// Messages API.
type Client struct {
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

// New constructs a Client. model defaults to a Claude model name if
// empty. dailyBudget caps the number of scoring calls issued over any
// 24h window, rationed as a steady per-second rate via
// golang.org/x/time/rate rather than a hard daily counter, so a burst
// of queue catch-up work doesn't exhaust the whole day's budget in its
// first minute (spec §6 "AI cost controls"). dailyBudget <= 0 disables
// the limiter.
func New(apiKey, model string, timeout time.Duration, dailyBudget int) *Client {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if dailyBudget > 0 {
		perSecond := rate.Limit(float64(dailyBudget) / (24 * 60 * 60))
		burst := dailyBudget
		if burst > 50 {
			burst = 50
		}
		limiter = rate.NewLimiter(perSecond, burst)
	}
	return &Client{apiKey: apiKey, model: model, http: &http.Client{Timeout: timeout}, limiter: limiter}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string        `json:"role"`
	Content []textContent `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []textContent `json:"content"`
}

const systemPrompt = `You are a job-matching scorer. Given a candidate profile and a job posting, respond with a single JSON object with exactly these keys: score (integer 0-100), priority (one of "HIGH","MEDIUM","LOW"), matchedSkills (array of strings), missingSkills (array of strings), keywords (array of strings), reasoning (string). Respond with JSON only, no extra text.`

// Score implements pipeline.Scorer.
func (c *Client) Score(ctx context.Context, profile pipeline.Profile, job pipeline.JobDetail, facts company.Facts) (pipeline.ScoreResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pipeline.ScoreResult{}, &ScoreError{kind: KindRateLimited, msg: fmt.Sprintf("daily cost budget: %v", err)}
		}
	}

	userContent := fmt.Sprintf(
		"Candidate profile:\n%s\n\nJob posting:\nTitle: %s\nDescription: %s\n\nCompany facts:\nAbout: %s\nCulture: %s\n",
		string(profile.Raw), job.Title, job.Description, facts.About, facts.Culture,
	)

	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: []textContent{{Type: "text", Text: userContent}}}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindInvalidResponse, msg: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindInvalidResponse, msg: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pipeline.ScoreResult{}, &ScoreError{kind: KindTimeout, msg: err.Error()}
		}
		return pipeline.ScoreResult{}, &ScoreError{kind: KindInvalidResponse, msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindRateLimited, msg: "anthropic rate limited"}
	}
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindTimeout, msg: fmt.Sprintf("anthropic status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindInvalidResponse, msg: fmt.Sprintf("anthropic status %d", resp.StatusCode)}
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindInvalidResponse, msg: fmt.Sprintf("decode response: %v", err)}
	}

	var text strings.Builder
	for _, part := range parsed.Content {
		text.WriteString(part.Text)
	}

	result, err := parseScoreResult(text.String())
	if err != nil {
		return pipeline.ScoreResult{}, &ScoreError{kind: KindInvalidResponse, msg: err.Error()}
	}
	return result, nil
}

func parseScoreResult(content string) (pipeline.ScoreResult, error) {
	var result pipeline.ScoreResult
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return pipeline.ScoreResult{}, errors.New("no JSON object found in scorer response")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return pipeline.ScoreResult{}, fmt.Errorf("decode scorer json: %w", err)
	}
	return result, nil
}
