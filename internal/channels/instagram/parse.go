package instagram

import (
	"time"

	"github.com/relaycrm/messaging-gateway/internal/channels"
	"github.com/relaycrm/messaging-gateway/internal/messages"
)

// ProviderName identifies this channel in accounts, events and jobs.
const ProviderName = "instagram"

// ParseWebhook flattens a webhook event into normalized inbound
// messages and status events. Echoes of the business's own messages are
// skipped; read receipts become status events.
func ParseWebhook(event WebhookEvent) ([]channels.InboundMessage, []channels.StatusEvent) {
	if event.Object != "instagram" {
		return nil, nil
	}

	var inbound []channels.InboundMessage
	var statuses []channels.StatusEvent

	for _, entry := range event.Entry {
		for _, m := range entry.Messaging {
			ts := time.UnixMilli(m.Timestamp).UTC()
			switch {
			case m.Message != nil && !m.Message.IsEcho:
				inbound = append(inbound, channels.InboundMessage{
					Provider:          ProviderName,
					AccountIdentity:   m.Recipient.ID,
					ProviderMessageID: m.Message.MID,
					ContactID:         m.Sender.ID,
					Content:           convertContent(m.Message),
					Timestamp:         ts,
				})
			case m.Read != nil:
				statuses = append(statuses, channels.StatusEvent{
					Provider:          ProviderName,
					AccountIdentity:   m.Recipient.ID,
					ProviderMessageID: m.Read.MID,
					Status:            messages.StatusRead,
					Timestamp:         ts,
				})
			}
		}
	}
	return inbound, statuses
}

func convertContent(msg *Message) messages.Content {
	if msg.Text != "" {
		return messages.NewText(msg.Text)
	}
	if len(msg.Attachments) > 0 {
		att := msg.Attachments[0]
		content := messages.NewMedia(att.Type, "", "", "")
		content.Media.URL = att.Payload.URL
		return content
	}
	return messages.NewUnknown("instagram_message", nil)
}
