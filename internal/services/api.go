// HTTP client for the generation backend
package services

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/shared"
	"golang.org/x/time/rate"
)

// TokenProvider supplies the bearer token and handles 401 responses.
type TokenProvider interface {
	Token() string
	HandleUnauthorized(ctx context.Context) error
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return shared.ErrUnauthorized
	case http.StatusPaymentRequired:
		return shared.ErrQuotaExceeded
	case http.StatusNotFound:
		return shared.ErrTaskNotFound
	case http.StatusServiceUnavailable:
		return shared.ErrServiceUnavailable
	}
	return shared.ErrAPIRequest
}

// ServerMessage returns the message carried by err when it is an [*APIError] with one.
func ServerMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// Client calls the generation backend.
type Client struct {
	baseURL    string
	provider   string
	model      string
	tokens     TokenProvider
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a client for cfg.BaseURL. A nil httpClient gets one with cfg's timeout.
func NewClient(cfg shared.APIConfig, tokens TokenProvider, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		provider:   cfg.Provider,
		model:      cfg.Model,
		tokens:     tokens,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: httpClient,
		logger:     shared.WithLogger(logger, "component", "api"),
	}
}

// routing overrides the default provider and model for one request.
type routing struct {
	provider string
	model    string
}

func (c *Client) do(ctx context.Context, method, endpoint string, route routing, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if p := cmp.Or(route.provider, c.provider); p != "" {
		req.Header.Set("X-Provider", p)
	}
	if m := cmp.Or(route.model, c.model); m != "" {
		req.Header.Set("X-Model", m)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
		c.logger.Debug("request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode)

		if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
			if err := c.tokens.HandleUnauthorized(ctx); err != nil {
				c.logger.Debug("unauthorized handler failed", "error", err)
			}
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// readMessage pulls a human readable message out of an error body.
func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}

	switch {
	case body.Message != "":
		return body.Message
	case body.Error != "":
		return body.Error
	}
	if s, ok := body.Detail.(string); ok {
		return s
	}
	return ""
}

