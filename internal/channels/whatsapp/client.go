package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v19.0"
	defaultUserAgent = "relaycrm-messaging-gateway/0.1"
)

// Config controls how the Graph API client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the WhatsApp Cloud API message endpoints. Access tokens
// are per channel account, so they are passed per call rather than held
// in the client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// SendMessage posts a message to a contact through the given phone
// number. The returned id is the provider message id status receipts
// will reference.
func (c *Client) SendMessage(ctx context.Context, accessToken, phoneNumberID string, req SendRequest) (*SendResponse, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("whatsapp: access token required")
	}
	if strings.TrimSpace(phoneNumberID) == "" {
		return nil, errors.New("whatsapp: phone number id required")
	}
	req.MessagingProduct = "whatsapp"
	if req.RecipientType == "" {
		req.RecipientType = "individual"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, accessToken, http.MethodPost, "/"+phoneNumberID+"/messages", body)
	if err != nil {
		return nil, err
	}
	var resp SendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("whatsapp: decode send response: %w", err)
	}
	return &resp, nil
}

// GetMediaInfo resolves a provider media id to its signed download URL.
func (c *Client) GetMediaInfo(ctx context.Context, accessToken, mediaID string) (*MediaInfo, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("whatsapp: access token required")
	}
	if strings.TrimSpace(mediaID) == "" {
		return nil, errors.New("whatsapp: media id required")
	}
	data, err := c.invoke(ctx, accessToken, http.MethodGet, "/"+mediaID, nil)
	if err != nil {
		return nil, err
	}
	var info MediaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("whatsapp: decode media response: %w", err)
	}
	return &info, nil
}

func (c *Client) invoke(ctx context.Context, accessToken, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !ShouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("whatsapp: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("whatsapp: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && ShouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("whatsapp: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("graph api retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

// ShouldRetry classifies transport errors and HTTP statuses. Rate limits
// and server errors are transient; other 4xx responses are permanent.
func ShouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

// APIError is the Graph API error body.
type APIError struct {
	StatusCode int `json:"-"`
	Detail     struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FbtraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

func (e *APIError) Error() string {
	if e.Detail.Message != "" {
		return fmt.Sprintf("whatsapp: %s (code=%d status=%d)", e.Detail.Message, e.Detail.Code, e.StatusCode)
	}
	return fmt.Sprintf("whatsapp: http status %d", e.StatusCode)
}

// Retryable reports whether the error status warrants another attempt.
func (e *APIError) Retryable() bool {
	return ShouldRetry(e.StatusCode, nil)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed.Detail.Message = string(body)
	}
	parsed.StatusCode = status
	return &parsed
}
