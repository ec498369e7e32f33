// Package llm is a thin client for a hosted text/JSON completion service
// (Gemini generateContent API).
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client is the completion port the rest of the service depends on.
type Client interface {
	// Text returns the model's plain-text answer to prompt.
	Text(ctx context.Context, prompt string) (string, error)
	// JSON asks for JSON output and returns the raw response text unparsed;
	// the caller owns the parse policy.
	JSON(ctx context.Context, system, user string) (string, error)
}

// ErrNotConfigured is returned by NewClient when no API key is available.
var ErrNotConfigured = errors.New("completion service not configured")

// Config selects the endpoint and model.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// APIError is a non-2xx answer from the completion service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion service returned status %d: %s", e.StatusCode, e.Message)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type gemini struct {
	http   *resty.Client
	model  string
	logger zerolog.Logger
}

// NewClient builds a completion client. Requests are never retried: a failed
// call is reported to the caller, who decides what to show.
func NewClient(cfg Config, logger zerolog.Logger) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey)

	return &gemini{
		http:   rc,
		model:  cfg.Model,
		logger: logger.With().Str("component", "llm").Str("model", cfg.Model).Logger(),
	}, nil
}

func (g *gemini) Text(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, prompt, "")
}

func (g *gemini) JSON(ctx context.Context, system, user string) (string, error) {
	return g.generate(ctx, system+"\n\n"+user, "application/json")
}

func (g *gemini) generate(ctx context.Context, prompt, mimeType string) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if mimeType != "" {
		body.GenerationConfig = &generationConfig{ResponseMimeType: mimeType}
	}

	start := time.Now()
	var out generateResponse
	var apiErr errorResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		SetPathParam("model", g.model).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		g.logger.Warn().Err(err).Msg("completion request failed")
		return "", fmt.Errorf("completion request: %w", err)
	}
	if resp.IsError() {
		g.logger.Warn().Int("status", resp.StatusCode()).Str("error", apiErr.Error.Message).Msg("completion service error")
		return "", &APIError{StatusCode: resp.StatusCode(), Message: apiErr.Error.Message}
	}

	g.logger.Debug().Dur("latency", time.Since(start)).Msg("completion ok")

	var sb strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}
