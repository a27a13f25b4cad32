package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

var (
	ErrNoGenerator = errors.New("no text generator configured")
	ErrClosed      = errors.New("companion closed")
)

// Prompt is a question plus recent conversation lines for grounding.
type Prompt struct {
	Question string   `json:"question"`
	Context  []string `json:"context,omitempty"`
}

// Response is generated text with optional grounding sources.
type Response struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (Response, error)
}

// HTTPGenerator posts prompts as JSON to an HTTP endpoint, retrying
// transient failures.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *retryablehttp.Client
}

// NewHTTPGenerator creates a generator for endpoint. retries <= 0 disables retrying.
func NewHTTPGenerator(endpoint, apiKey string, retries int, logger *zap.Logger) *HTTPGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := retryablehttp.NewClient()
	c.RetryMax = max(retries, 0)
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = leveledLogger{logger.Sugar()}
	return &HTTPGenerator{endpoint: endpoint, apiKey: apiKey, client: c}
}

func (g *HTTPGenerator) Generate(ctx context.Context, p Prompt) (Response, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return Response{}, fmt.Errorf("encode prompt: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("generate: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// leveledLogger routes retryablehttp's logging through zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
