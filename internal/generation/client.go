// Package generation is the client of the remote image-synthesis service.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leandro-br-dev/charhub-sub004/internal/circuitbreaker"
	"github.com/leandro-br-dev/charhub-sub004/internal/config"
	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
)

const backendName = "image-synthesis"

// Kind selects the generation mode on the backend
type Kind string

const (
	KindAvatar        Kind = "avatar"
	KindSticker       Kind = "sticker"
	KindReferenceView Kind = "reference-view"
	KindCorrection    Kind = "correction"
)

// Request is one single-image generation call
type Request struct {
	Kind           Kind     `json:"kind"`
	Label          string   `json:"label,omitempty"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negativePrompt,omitempty"`
	References     []string `json:"references,omitempty"`
	Style          string   `json:"style,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
}

// Artifact is an opaque reference to stored generated pixels
type Artifact struct {
	Ref         string `json:"artifactRef"`
	ContentType string `json:"contentType,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// FieldsRequest asks the backend to fill in missing character attributes
type FieldsRequest struct {
	SubjectID string            `json:"subjectId"`
	Known     map[string]string `json:"known,omitempty"`
	Missing   []string          `json:"missing"`
}

// Backend is what job handlers need from the generation service
type Backend interface {
	Invoke(ctx context.Context, req Request) (*Artifact, error)
	CompleteFields(ctx context.Context, req FieldsRequest) (map[string]string, error)
	HealthCheck(ctx context.Context) bool
}

// Client talks JSON over HTTP to the generation service. Errors come back
// classified as TransientBackendError or PermanentBackendError.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logging.Logger
}

// NewClient creates a generation client from config
func NewClient(cfg config.GenerationConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig(backendName)
	if cfg.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = cfg.BreakerMaxFailures
	}
	if cfg.BreakerResetTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerResetTimeout
	}
	if cfg.BreakerHalfOpenProbes > 0 {
		breakerCfg.HalfOpenMaxCalls = cfg.BreakerHalfOpenProbes
	}
	// rejected prompts say nothing about backend health
	breakerCfg.IsFailure = apperrors.IsRetryable

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		timeout:    timeout,
		breaker:    circuitbreaker.NewCircuitBreaker(breakerCfg),
		logger:     logger.WithField("component", "generation"),
	}
}

// Breaker exposes the client's circuit breaker
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Invoke generates a single image
func (c *Client) Invoke(ctx context.Context, req Request) (*Artifact, error) {
	var artifact Artifact
	if err := c.call(ctx, "/v1/generate", req, &artifact); err != nil {
		return nil, err
	}
	if artifact.Ref == "" {
		return nil, apperrors.NewPermanentBackendError(backendName, errors.New("response carried no artifact reference"))
	}
	return &artifact, nil
}

// CompleteFields asks the backend for values of missing character fields
func (c *Client) CompleteFields(ctx context.Context, req FieldsRequest) (map[string]string, error) {
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := c.call(ctx, "/v1/complete", req, &resp); err != nil {
		return nil, err
	}
	return resp.Fields, nil
}

// HealthCheck reports whether the backend answers its health endpoint
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).Warn("Generation backend health check failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (c *Client) call(ctx context.Context, path string, in, out interface{}) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, path, in, out)
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return apperrors.NewTransientBackendError(backendName, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.NewPermanentBackendError(backendName, fmt.Errorf("failed to encode request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewPermanentBackendError(backendName, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.NewTransientBackendError(backendName, fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewTransientBackendError(backendName, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.WithFields(map[string]interface{}{
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("Generation backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.NewPermanentBackendError(backendName, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyStatus maps an HTTP failure onto the error taxonomy. Timeouts,
// quota exhaustion and server errors are worth retrying; the rest are not.
func classifyStatus(status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	cause := fmt.Errorf("status=%d body=%s", status, snippet)

	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return apperrors.NewTransientBackendError(backendName, cause)
	default:
		return apperrors.NewPermanentBackendError(backendName, cause)
	}
}
