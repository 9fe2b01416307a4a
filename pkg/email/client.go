// Package email sends report digests through an HTTP email provider.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (1MB)
	MaxResponseSize = 1 * 1024 * 1024
)

// Message is one outbound email
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// SendResult is the provider's acknowledgement of an accepted message
type SendResult struct {
	MessageID string `json:"id"`
}

// SendError is a provider rejection. RateLimited is set on 429 responses so
// the dispatcher can back off and retry instead of failing the report.
type SendError struct {
	StatusCode  int
	Body        string
	RateLimited bool
	RetryAfter  time.Duration
}

func (e *SendError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("email provider rate limited (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("email provider returned %d: %s", e.StatusCode, e.Body)
}

// Sender sends emails. The dispatcher depends on this interface so tests can
// fake the provider.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// Config holds email client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is an HTTP client for a Resend-compatible email API
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  ectologger.Logger
}

// NewClient creates a new email client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// Send posts a message to the provider and returns its message id
func (c *Client) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	ctx, span := tracing.StartSpan(ctx, "EmailClient.Send")
	defer span.End()

	start := time.Now()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Errorf("Email send failed: POST %s/emails", c.baseURL)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	duration := time.Since(start)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &SendError{
			StatusCode:  resp.StatusCode,
			Body:        string(body),
			RateLimited: true,
			RetryAfter:  retryAfter(resp.Header),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SendError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse provider response: %w", err)
	}

	c.logger.WithContext(ctx).Debugf("Email sent to %v -> %s (%s)", msg.To, result.MessageID, duration)

	return &result, nil
}

// retryAfter parses the Retry-After header, seconds form only
func retryAfter(h http.Header) time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
