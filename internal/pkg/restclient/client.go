// Package restclient is a generic authenticated JSON API client with bounded
// retries, per-request timeouts and a discriminated Result shape. It backs
// every third-party REST integration in this service.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tradewindhq/tradewind/internal/pkg/logging"
	"github.com/tradewindhq/tradewind/internal/pkg/retry"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 2 << 20
)

// Config carries the connection settings for one provider API.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Config
}

// Options tweak a single request.
type Options struct {
	Timeout        time.Duration
	Headers        map[string]string
	SkipRetry      bool
	IdempotencyKey string
}

// Client performs authenticated HTTP calls against one provider.
type Client struct {
	provider   string
	cfg        Config
	httpClient *http.Client
}

// New creates a client for the named provider. The provider label appears in
// log output only; secrets never do.
func New(provider string, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Client{
		provider:   provider,
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

func (c *Client) Get(ctx context.Context, path string, opts *Options) Result {
	return c.do(ctx, http.MethodGet, path, nil, opts)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}, opts *Options) Result {
	return c.do(ctx, http.MethodPost, path, body, opts)
}

func (c *Client) Put(ctx context.Context, path string, body interface{}, opts *Options) Result {
	return c.do(ctx, http.MethodPut, path, body, opts)
}

func (c *Client) Delete(ctx context.Context, path string, opts *Options) Result {
	return c.do(ctx, http.MethodDelete, path, nil, opts)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, opts *Options) Result {
	if opts == nil {
		opts = &Options{}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return failure(&APIError{
				Code:    ErrValidation,
				Message: "request body could not be serialized: " + c.redact(err.Error()),
			})
		}
	}

	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	// One idempotency key for the whole retry loop so server-side dedup sees
	// every attempt as the same logical write.
	idempotencyKey := opts.IdempotencyKey
	if idempotencyKey == "" && (method == http.MethodPost || method == http.MethodPut) {
		idempotencyKey = retry.NewIdempotencyKey()
	}

	maxAttempts := c.cfg.Retry.MaxRetries + 1
	if opts.SkipRetry {
		maxAttempts = 1
	}

	var lastErr *APIError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, apiErr := c.attempt(ctx, method, path, payload, timeout, idempotencyKey, opts.Headers)
		if apiErr == nil {
			return res
		}
		lastErr = apiErr

		if !apiErr.IsRetryable || attempt == maxAttempts-1 {
			break
		}

		logging.LogWarn("retrying request", logrus.Fields{
			"provider": c.provider,
			"path":     path,
			"status":   apiErr.Status,
			"code":     string(apiErr.Code),
			"attempt":  attempt + 1,
		})
		if waitErr := retry.Wait(ctx, retry.Backoff(attempt, c.cfg.Retry)); waitErr != nil {
			break
		}
	}

	return failure(lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, timeout time.Duration, idempotencyKey string, extraHeaders map[string]string) (Result, *APIError) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return Result{}, &APIError{Code: ErrUnknown, Message: c.redact(err.Error())}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, c.transportError(reqCtx, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Success: true, Status: resp.StatusCode, Data: respBody}, nil
	}
	return Result{}, c.statusError(resp.StatusCode, respBody)
}

func (c *Client) transportError(ctx context.Context, err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &APIError{Code: ErrTimeout, Message: "request timed out", IsRetryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &APIError{Code: ErrNetwork, Message: "request cancelled", IsRetryable: false}
	}
	return &APIError{Code: ErrNetwork, Message: c.redact(err.Error()), IsRetryable: true}
}

func (c *Client) statusError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Status:      status,
		IsRetryable: retry.RetryableStatus(status),
		Message:     c.redact(truncate(string(body), 512)),
	}
	if json.Valid(body) && len(body) <= maxDetailSize {
		apiErr.Details = json.RawMessage(c.redact(string(body)))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Code = ErrAuth
	case status == http.StatusNotFound:
		apiErr.Code = ErrNotFound
	case status == http.StatusTooManyRequests:
		apiErr.Code = ErrRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		apiErr.Code = ErrValidation
	case status >= 500:
		apiErr.Code = ErrServer
	case status >= 400:
		apiErr.Code = ErrOperationFailed
	default:
		apiErr.Code = ErrUnknown
	}
	return apiErr
}

const maxDetailSize = 64 << 10

// redact scrubs the API key from any text that may end up in a log line or a
// serialized error.
func (c *Client) redact(s string) string {
	if c.cfg.APIKey == "" {
		return s
	}
	return strings.ReplaceAll(s, c.cfg.APIKey, "[REDACTED]")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
