package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/relaycrm/messaging-gateway/internal/accounts"
	"github.com/relaycrm/messaging-gateway/internal/channels/instagram"
	"github.com/relaycrm/messaging-gateway/internal/channels/whatsapp"
	"github.com/relaycrm/messaging-gateway/internal/messages"
)

// Sender delivers one message through a provider and returns the
// provider message id.
type Sender interface {
	Send(ctx context.Context, acc accounts.Account, recipientID string, content messages.Content) (string, error)
}

// ErrUnsupportedContent marks content kinds a provider cannot deliver.
// It is a permanent failure.
var ErrUnsupportedContent = errors.New("outbound: content type not supported by provider")

type retryableError interface {
	Retryable() bool
}

// IsRetryable classifies a send error. Provider API errors report their
// own retryability; timeouts are transient; cancellation is final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedContent) {
		return false
	}
	var r retryableError
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// WhatsAppSender delivers through the Cloud API.
type WhatsAppSender struct {
	client *whatsapp.Client
}

func NewWhatsAppSender(client *whatsapp.Client) *WhatsAppSender {
	return &WhatsAppSender{client: client}
}

func (s *WhatsAppSender) Send(ctx context.Context, acc accounts.Account, recipientID string, content messages.Content) (string, error) {
	req := whatsapp.SendRequest{To: recipientID}
	switch content.Type {
	case messages.ContentTypeText:
		req.Type = "text"
		req.Text = &whatsapp.TextBody{Body: content.Text.Body}
	case messages.ContentTypeMedia:
		media := content.Media
		body := &whatsapp.MediaBody{ID: media.MediaID, Link: media.URL, Caption: media.Caption}
		switch media.Kind {
		case "image":
			req.Type = "image"
			req.Image = body
		case "audio":
			req.Type = "audio"
			req.Audio = body
		case "video":
			req.Type = "video"
			req.Video = body
		case "document":
			req.Type = "document"
			req.Document = &whatsapp.DocumentBody{
				ID: media.MediaID, Link: media.URL,
				Caption: media.Caption, Filename: media.Filename,
			}
		default:
			return "", fmt.Errorf("%w: media kind %q", ErrUnsupportedContent, media.Kind)
		}
	case messages.ContentTypeLocation:
		req.Type = "location"
		req.Location = &whatsapp.LocationBody{
			Latitude:  content.Location.Latitude,
			Longitude: content.Location.Longitude,
			Name:      content.Location.Name,
			Address:   content.Location.Address,
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, content.Type)
	}

	resp, err := s.client.SendMessage(ctx, acc.AccessToken, acc.IdentityID, req)
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", errors.New("outbound: cloud api returned no message id")
	}
	return resp.Messages[0].ID, nil
}

// InstagramSender delivers through the Instagram Graph API.
type InstagramSender struct {
	client *instagram.Client
}

func NewInstagramSender(client *instagram.Client) *InstagramSender {
	return &InstagramSender{client: client}
}

func (s *InstagramSender) Send(ctx context.Context, acc accounts.Account, recipientID string, content messages.Content) (string, error) {
	switch content.Type {
	case messages.ContentTypeText:
		resp, err := s.client.SendTextMessage(ctx, acc.AccessToken, recipientID, content.Text.Body)
		if err != nil {
			return "", err
		}
		return resp.MessageID, nil
	case messages.ContentTypeMedia:
		if content.Media.URL == "" {
			return "", fmt.Errorf("%w: instagram media requires a public url", ErrUnsupportedContent)
		}
		resp, err := s.client.SendMediaMessage(ctx, acc.AccessToken, recipientID, content.Media.Kind, content.Media.URL)
		if err != nil {
			return "", err
		}
		return resp.MessageID, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, content.Type)
	}
}
