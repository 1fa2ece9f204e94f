// Package insight calls the external narrative-insight collaborator.
// The collaborator is advisory: its narrative may add focus areas but
// never replaces the deterministic synthesis rules, and every failure
// mode degrades to the local fallback.
package insight

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/metrics"
)

// Client handles narrative-insight API calls
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *logging.Logger

	mu    sync.RWMutex
	cache map[string]Analysis
}

// Config for the insight client
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewClient creates a new insight client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		metrics: cfg.Metrics,
		log:     logging.WithField("component", "insight"),
		cache:   make(map[string]Analysis),
	}
}

func (c *Client) countRequest(result string) {
	if c.metrics != nil {
		c.metrics.InsightRequests.WithLabelValues(result).Inc()
	}
}

// AnalysisRequest is the structured payload sent to the collaborator.
type AnalysisRequest struct {
	UserID         core.UserID `json:"user_id"`
	ProfileSummary string      `json:"profile_summary"`
	Patterns       []string    `json:"patterns"`
	OpenQuestions  []string    `json:"open_questions"`
}

// Analysis is the collaborator's response: unstructured narrative text
// plus its own confidence estimate.
type Analysis struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// IsConfigured reports whether the client can reach a collaborator.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Analyze sends the request, serving repeats from a content-hash
// cache. Timeouts and transport errors surface as
// core.ErrCollaboratorUnavailable; callers fall back to deterministic
// synthesis.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	if !c.IsConfigured() {
		return nil, core.ErrCollaboratorUnavailable
	}

	key, err := contentHash(req)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		if c.metrics != nil {
			c.metrics.InsightCacheHits.Inc()
		}
		c.countRequest("cache")
		return &cached, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if c.metrics != nil {
		c.metrics.InsightLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.log.Warn("insight request failed: %v", err)
		c.countRequest("unavailable")
		return nil, fmt.Errorf("%w: %v", core.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countRequest("unavailable")
		return nil, fmt.Errorf("%w: read response: %v", core.ErrCollaboratorUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("insight request returned %d", resp.StatusCode)
		c.countRequest("unavailable")
		return nil, fmt.Errorf("%w: status %d", core.ErrCollaboratorUnavailable, resp.StatusCode)
	}

	var analysis Analysis
	if err := json.Unmarshal(respBody, &analysis); err != nil {
		c.countRequest("malformed")
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedNarrative, err)
	}
	if analysis.Text == "" {
		c.countRequest("malformed")
		return nil, fmt.Errorf("%w: empty narrative", core.ErrMalformedNarrative)
	}
	analysis.Confidence = core.Clamp(analysis.Confidence, 0, 1)

	c.mu.Lock()
	c.cache[key] = analysis
	c.mu.Unlock()
	c.countRequest("ok")
	return &analysis, nil
}

func contentHash(req AnalysisRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
