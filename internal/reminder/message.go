package reminder

import (
	"html"
	"strings"

	"planbot/internal/storage"
	"planbot/internal/timer"
)

// FormatReminder renders the text sent when a reminder fires. Output is
// Telegram HTML; user text is escaped.
func FormatReminder(p timer.Payload) string {
	var b strings.Builder
	b.WriteString("🔔 <b>Reminder about your plan</b>\n")
	b.WriteString("Topic: <b>")
	b.WriteString(html.EscapeString(p.Topic))
	b.WriteString("</b>")
	if body := strings.TrimSpace(p.Body); body != "" {
		b.WriteString("\nDetails: «")
		b.WriteString(html.EscapeString(body))
		b.WriteString("»")
	}
	return b.String()
}

// payloadOf captures what will be delivered. Later edits only reach the job
// through an explicit re-snapshot.
func payloadOf(p storage.Plan) timer.Payload {
	out := timer.Payload{Topic: p.Topic, Body: p.Body}
	if p.Attachment != nil {
		out.MediaID = p.Attachment.MediaID
		out.MediaKind = string(p.Attachment.Kind)
	}
	return out
}

func keyOf(p storage.Plan) timer.Key { return timer.Key{Owner: p.OwnerID, Plan: p.ID} }
