package messages

import (
	"encoding/json"
	"fmt"
)

// ContentType discriminates the message content union.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMedia    ContentType = "media"
	ContentTypeLocation ContentType = "location"
	ContentTypeContact  ContentType = "contact"
	ContentTypeUnknown  ContentType = "unknown"
)

// Content is a tagged union over the message body kinds the providers
// deliver. Exactly one of the pointer fields matching Type is set.
type Content struct {
	Type     ContentType      `json:"type"`
	Text     *TextContent     `json:"text,omitempty"`
	Media    *MediaContent    `json:"media,omitempty"`
	Location *LocationContent `json:"location,omitempty"`
	Contact  *ContactContent  `json:"contact,omitempty"`
	Unknown  *UnknownContent  `json:"unknown,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

// MediaContent covers images, audio, video, documents and stickers. The
// provider media id is stored as-is; binaries are fetched on demand.
type MediaContent struct {
	Kind     string `json:"kind"`
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ContactContent struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones,omitempty"`
	Emails []string `json:"emails,omitempty"`
}

// UnknownContent preserves the raw provider payload for types the
// gateway does not model, so nothing is silently dropped.
type UnknownContent struct {
	ProviderType string          `json:"provider_type"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// NewText builds a text content value.
func NewText(body string) Content {
	return Content{Type: ContentTypeText, Text: &TextContent{Body: body}}
}

// NewMedia builds a media content value.
func NewMedia(kind, mediaID, mimeType, caption string) Content {
	return Content{Type: ContentTypeMedia, Media: &MediaContent{
		Kind:     kind,
		MediaID:  mediaID,
		MimeType: mimeType,
		Caption:  caption,
	}}
}

// NewUnknown wraps an unrecognized payload.
func NewUnknown(providerType string, raw json.RawMessage) Content {
	return Content{Type: ContentTypeUnknown, Unknown: &UnknownContent{
		ProviderType: providerType,
		Raw:          raw,
	}}
}

// Validate checks that the discriminator matches the populated field.
func (c Content) Validate() error {
	switch c.Type {
	case ContentTypeText:
		if c.Text == nil {
			return fmt.Errorf("messages: text content missing body")
		}
	case ContentTypeMedia:
		if c.Media == nil || (c.Media.MediaID == "" && c.Media.URL == "") {
			return fmt.Errorf("messages: media content missing media id or url")
		}
	case ContentTypeLocation:
		if c.Location == nil {
			return fmt.Errorf("messages: location content missing coordinates")
		}
	case ContentTypeContact:
		if c.Contact == nil {
			return fmt.Errorf("messages: contact content missing card")
		}
	case ContentTypeUnknown:
		if c.Unknown == nil {
			return fmt.Errorf("messages: unknown content missing payload")
		}
	default:
		return fmt.Errorf("messages: unsupported content type %q", c.Type)
	}
	return nil
}

// Preview returns a short human readable summary for conversation lists.
func (c Content) Preview() string {
	switch c.Type {
	case ContentTypeText:
		if c.Text != nil {
			return truncate(c.Text.Body, 120)
		}
	case ContentTypeMedia:
		if c.Media != nil {
			if c.Media.Caption != "" {
				return truncate(c.Media.Caption, 120)
			}
			return "[" + c.Media.Kind + "]"
		}
	case ContentTypeLocation:
		return "[location]"
	case ContentTypeContact:
		return "[contact]"
	}
	return "[unsupported]"
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
