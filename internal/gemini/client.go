// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gemini

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the Generative Language API.
const (
	// DefaultBaseURL is the base URL for the Generative Language API.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "gemini-2.5-flash"

	// DefaultTimeout is the default timeout for generation requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared transport for all Gemini clients.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

// Error variables for common generation failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("gemini API key not configured")

	// ErrUnavailable indicates the provider could not be reached or returned
	// an unusable response (transport failure, non-2xx, malformed JSON).
	// Distinct from a well-formed response with no extractable text.
	ErrUnavailable = errors.New("generation service unavailable")
)

// APIError represents an error status returned by the API.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gemini error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gemini error (HTTP %d)", e.Status)
}

// Content is a single role-tagged entry in a generation request.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is one text part of a Content entry.
type Part struct {
	Text string `json:"text"`
}

// UserContent builds a user-role Content with a single text part.
func UserContent(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	Contents []Content `json:"contents"`
}

// generateResponse is the generateContent response body. Every level is
// optional on the wire; text is RawMessage so a non-string value degrades
// instead of failing the whole decode.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text json.RawMessage `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// apiErrorResponse is the error envelope the API returns on non-2xx.
type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Result is the outcome of a successful round trip to the provider.
// OK is false when the response was well-formed but carried no extractable
// text (no candidates, no parts, empty or non-string text).
type Result struct {
	Text string
	OK   bool
}

// Client is a client for the generateContent endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int

	// limiter paces outbound calls when set; it never drops them.
	limiter *rate.Limiter
}

// NewClient creates a new Client with the given API key.
//
// If the API key is empty the client is still created but GenerateContent
// fails with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: sharedTransport,
		},
		maxRetries: DefaultMaxRetries,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the model used for generation.
func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// WithTimeout sets the request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient = &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
	return c
}

// WithMaxRetries sets the maximum number of attempts per generation.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries > 0 {
		c.maxRetries = maxRetries
	}
	return c
}

// WithRequestsPerMinute paces outbound calls at the given rate.
// Zero or negative disables pacing.
func (c *Client) WithRequestsPerMinute(rpm int) *Client {
	if rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	} else {
		c.limiter = nil
	}
	return c
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a masked representation of the API key for display.
// SECURITY: Never exposes key fragments — length and fingerprint only.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.keyFingerprint())
}

// keyFingerprint returns a short SHA-256 fingerprint of the API key for logs.
func (c *Client) keyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// GenerateContent sends the ordered contents to the model and extracts the
// first candidate's first text part.
//
// It makes exactly one logical generation: transient transport and 5xx
// failures are retried with exponential backoff up to the retry budget, then
// surface as ErrUnavailable. A well-formed response with nothing to extract
// is not an error — it returns a Result with OK false.
func (c *Client) GenerateContent(ctx context.Context, contents []Content) (Result, error) {
	if !c.IsConfigured() {
		return Result{}, ErrNotConfigured
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		result, err := c.doRequest(ctx, url, contents)
		if err != nil {
			if c.isRetryable(err) {
				lastErr = err
				continue
			}
			return Result{}, err
		}
		return result, nil
	}

	return Result{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP round trip to the generateContent endpoint.
func (c *Client) doRequest(ctx context.Context, requestURL string, contents []Content) (Result, error) {
	bodyBytes, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)

	// SECURITY: Clear the key header immediately after the request so the
	// request object can never leak it through logging.
	req.Header.Del("x-goog-api-key")

	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	log.Printf("GEMINI_RESPONSE | status=%d latency=%dms key=%s",
		resp.StatusCode, time.Since(start).Milliseconds(), c.keyFingerprint())

	if resp.StatusCode != http.StatusOK {
		return Result{}, c.handleErrorResponse(resp.StatusCode, body)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return Result{}, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}

	return extractText(&genResp), nil
}

// extractText walks the candidate/content/parts/text chain. Every step is
// optional; any gap resolves to an empty Result instead of an error.
func extractText(resp *generateResponse) Result {
	if len(resp.Candidates) == 0 {
		return Result{}
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == nil {
		return Result{}
	}

	var text string
	if err := json.Unmarshal(parts[0].Text, &text); err != nil {
		// Non-string text field: treat as absent.
		return Result{}
	}
	if text == "" {
		return Result{}
	}
	return Result{Text: text, OK: true}
}

// readResponse reads the response body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response into an error. All of them
// wrap ErrUnavailable so the relay maps them to a single opaque failure.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%w: %w", ErrUnavailable, &APIError{
			Status:  statusCode,
			Message: apiErr.Error.Message,
		})
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, &APIError{Status: statusCode})
}

// isRetryable determines if an error should trigger a retry: 5xx and 429
// statuses only. Context cancellation and malformed responses are final.
func (c *Client) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests ||
			(apiErr.Status >= 500 && apiErr.Status < 600)
	}

	return false
}

// calculateBackoff returns the delay before the next retry attempt.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
