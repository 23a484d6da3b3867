package wa

import (
	"time"

	"github.com/matheus3301/canteiro/internal/remote"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Self is the address used for the local account on the side of a message
// that is not the conversation.
const Self = "me"

// NormalizeJID strips the device part so every device of a user maps to
// the same conversation.
func NormalizeJID(jid types.JID) string {
	if jid.IsEmpty() {
		return ""
	}
	return jid.ToNonAD().String()
}

// ParseLiveMessage converts a live whatsmeow message into wire form.
func ParseLiveMessage(evt *events.Message) remote.RawMessage {
	m := newRawMessage(NormalizeJID(evt.Info.Chat), evt.Info.IsFromMe, evt.Message)
	m.ID = evt.Info.ID
	m.Timestamp = evt.Info.Timestamp
	if evt.Info.IsGroup {
		m.Author = NormalizeJID(evt.Info.Sender)
	}
	return m
}

// parseHistoryMessage converts one history sync message of chatID.
func parseHistoryMessage(chatID string, isGroup bool, info *waWeb.WebMessageInfo) (remote.RawMessage, bool) {
	if info == nil || info.GetMessage() == nil {
		return remote.RawMessage{}, false
	}
	key := info.GetKey()
	m := newRawMessage(chatID, key.GetFromMe(), info.GetMessage())
	m.ID = key.GetID()
	m.Timestamp = time.Unix(int64(info.GetMessageTimestamp()), 0)
	if isGroup {
		if p, err := types.ParseJID(key.GetParticipant()); err == nil {
			m.Author = NormalizeJID(p)
		}
	}
	return m, m.ID != ""
}

func newRawMessage(chatID string, fromMe bool, msg *waE2E.Message) remote.RawMessage {
	m := remote.RawMessage{
		FromMe: fromMe,
		Body:   extractTextBody(msg),
		Media:  extractMedia(msg),
	}
	if fromMe {
		m.From, m.To = Self, chatID
	} else {
		m.From, m.To = chatID, Self
	}
	if audio := msg.GetAudioMessage(); audio != nil {
		m.IsVoice = audio.GetPTT()
		m.Duration = int(audio.GetSeconds())
	}
	return m
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

// extractMedia describes the attachment of msg. Media is not downloaded, so
// URL holds the direct path the phone would fetch it from.
func extractMedia(msg *waE2E.Message) *remote.Media {
	switch kind := detectMessageType(msg); kind {
	case "image":
		img := msg.GetImageMessage()
		return &remote.Media{Type: kind, URL: img.GetDirectPath(), Size: int64(img.GetFileLength())}
	case "video":
		vid := msg.GetVideoMessage()
		return &remote.Media{Type: kind, URL: vid.GetDirectPath(), Size: int64(vid.GetFileLength())}
	case "audio":
		a := msg.GetAudioMessage()
		return &remote.Media{Type: kind, URL: a.GetDirectPath(), Size: int64(a.GetFileLength())}
	case "document":
		doc := msg.GetDocumentMessage()
		return &remote.Media{Type: kind, URL: doc.GetDirectPath(), Name: doc.GetFileName(), Size: int64(doc.GetFileLength())}
	case "sticker":
		return &remote.Media{Type: kind, URL: msg.GetStickerMessage().GetDirectPath()}
	}
	return nil
}
