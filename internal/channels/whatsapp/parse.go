package whatsapp

import (
	"strconv"
	"strings"
	"time"

	"github.com/relaycrm/messaging-gateway/internal/channels"
	"github.com/relaycrm/messaging-gateway/internal/messages"
)

// ProviderName identifies this channel in accounts, events and jobs.
const ProviderName = "whatsapp"

// ParseWebhook flattens a webhook payload into normalized inbound
// messages and status events. Payloads for other Meta objects yield
// nothing rather than an error; Meta mixes subscriptions freely.
func ParseWebhook(payload WebhookPayload) ([]channels.InboundMessage, []channels.StatusEvent) {
	var inbound []channels.InboundMessage
	var statuses []channels.StatusEvent

	if payload.Object != "whatsapp_business_account" {
		return nil, nil
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value
			names := contactNames(value.Contacts)

			for _, msg := range value.Messages {
				inbound = append(inbound, channels.InboundMessage{
					Provider:          ProviderName,
					AccountIdentity:   value.Metadata.PhoneNumberID,
					ProviderMessageID: msg.ID,
					ContactID:         msg.From,
					ContactName:       names[msg.From],
					Content:           convertContent(msg),
					Timestamp:         parseEpoch(msg.Timestamp),
				})
			}

			for _, st := range value.Statuses {
				event, ok := convertStatus(value.Metadata.PhoneNumberID, st)
				if !ok {
					continue
				}
				statuses = append(statuses, event)
			}
		}
	}
	return inbound, statuses
}

func contactNames(contacts []WebhookContact) map[string]string {
	if len(contacts) == 0 {
		return nil
	}
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func convertContent(msg IncomingMessage) messages.Content {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return messages.NewText(msg.Text.Body)
		}
	case "image":
		if msg.Image != nil {
			return messages.NewMedia("image", msg.Image.ID, msg.Image.MimeType, msg.Image.Caption)
		}
	case "audio":
		if msg.Audio != nil {
			return messages.NewMedia("audio", msg.Audio.ID, msg.Audio.MimeType, msg.Audio.Caption)
		}
	case "video":
		if msg.Video != nil {
			return messages.NewMedia("video", msg.Video.ID, msg.Video.MimeType, msg.Video.Caption)
		}
	case "sticker":
		if msg.Sticker != nil {
			return messages.NewMedia("sticker", msg.Sticker.ID, msg.Sticker.MimeType, "")
		}
	case "document":
		if msg.Document != nil {
			content := messages.NewMedia("document", msg.Document.ID, msg.Document.MimeType, msg.Document.Caption)
			content.Media.Filename = msg.Document.Filename
			return content
		}
	case "location":
		if msg.Location != nil {
			return messages.Content{Type: messages.ContentTypeLocation, Location: &messages.LocationContent{
				Latitude:  msg.Location.Latitude,
				Longitude: msg.Location.Longitude,
				Name:      msg.Location.Name,
				Address:   msg.Location.Address,
			}}
		}
	case "contacts":
		if len(msg.Contacts) > 0 {
			return messages.Content{Type: messages.ContentTypeContact, Contact: convertContactCard(msg.Contacts[0])}
		}
	}
	return messages.NewUnknown(msg.Type, msg.Raw)
}

func convertContactCard(card IncomingContact) *messages.ContactContent {
	contact := &messages.ContactContent{Name: card.Name.FormattedName}
	for _, p := range card.Phones {
		if p.Phone != "" {
			contact.Phones = append(contact.Phones, p.Phone)
		}
	}
	for _, e := range card.Emails {
		if e.Email != "" {
			contact.Emails = append(contact.Emails, e.Email)
		}
	}
	return contact
}

func convertStatus(phoneNumberID string, st StatusUpdate) (channels.StatusEvent, bool) {
	var status messages.Status
	switch strings.ToLower(st.Status) {
	case "sent":
		status = messages.StatusSent
	case "delivered":
		status = messages.StatusDelivered
	case "read":
		status = messages.StatusRead
	case "failed":
		status = messages.StatusFailed
	default:
		return channels.StatusEvent{}, false
	}

	event := channels.StatusEvent{
		Provider:          ProviderName,
		AccountIdentity:   phoneNumberID,
		ProviderMessageID: st.ID,
		Status:            status,
		Timestamp:         parseEpoch(st.Timestamp),
	}
	if len(st.Errors) > 0 {
		event.ErrorCode = strconv.Itoa(st.Errors[0].Code)
		event.ErrorMessage = st.Errors[0].Title
		if st.Errors[0].Message != "" {
			event.ErrorMessage = st.Errors[0].Message
		}
	}
	return event, true
}

func parseEpoch(value string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
