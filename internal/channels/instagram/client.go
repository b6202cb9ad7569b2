package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v19.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// Client sends messages via the Instagram Graph API. Page access tokens
// are per channel account, so they are passed per call.
type Client struct {
	graphAPIBase string
	httpClient   *http.Client
}

// NewClient creates a new Graph API client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultGraphAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		graphAPIBase: base,
		httpClient:   httpClient,
	}
}

// SendTextMessage sends a plain text message to the given recipient.
func (c *Client) SendTextMessage(ctx context.Context, accessToken, recipientID, text string) (*SendResponse, error) {
	req := SendRequest{
		Recipient: SendRecipient{ID: recipientID},
		Message:   SendMessage{Text: text},
	}
	return c.send(ctx, accessToken, req)
}

// SendMediaMessage sends a media attachment by public URL.
func (c *Client) SendMediaMessage(ctx context.Context, accessToken, recipientID, mediaType, mediaURL string) (*SendResponse, error) {
	req := SendRequest{
		Recipient: SendRecipient{ID: recipientID},
		Message: SendMessage{
			Attachment: &SendAttachment{
				Type:    mediaType,
				Payload: SendAttachmentPayload{URL: mediaURL},
			},
		},
	}
	return c.send(ctx, accessToken, req)
}

func (c *Client) send(ctx context.Context, accessToken string, req SendRequest) (*SendResponse, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("instagram: access token required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("instagram: marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", c.graphAPIBase, url.QueryEscape(accessToken))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("instagram: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("instagram: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("instagram: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return nil, fmt.Errorf("instagram: unmarshal response: %w", err)
	}

	if sendResp.Error != nil {
		return &sendResp, &APIError{StatusCode: resp.StatusCode, Detail: *sendResp.Error}
	}

	if resp.StatusCode != http.StatusOK {
		return &sendResp, &APIError{StatusCode: resp.StatusCode, Detail: SendError{Message: string(respBody)}}
	}

	return &sendResp, nil
}

// APIError carries the Graph API error payload with its HTTP status.
type APIError struct {
	StatusCode int
	Detail     SendError
}

func (e *APIError) Error() string {
	if e.Detail.Message != "" {
		return fmt.Sprintf("instagram: %s (code=%d status=%d)", e.Detail.Message, e.Detail.Code, e.StatusCode)
	}
	return fmt.Sprintf("instagram: http status %d", e.StatusCode)
}

// Retryable reports whether the send is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
