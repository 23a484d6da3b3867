package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil message", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look"},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if got != tt.want {
				t.Errorf("extractTextBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, "unknown"},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, "text"},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "image"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "audio"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, "document"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, "location"},
		{"empty message", &waE2E.Message{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMessageType(tt.msg)
			if got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "chat", Server: types.DefaultUserServer},
				Sender: types.JID{User: "chat", Server: types.DefaultUserServer},
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	m := ParseLiveMessage(evt)

	if m.ConversationID() != "chat@s.whatsapp.net" {
		t.Errorf("conversation = %q, want chat@s.whatsapp.net", m.ConversationID())
	}
	if m.To != Self {
		t.Errorf("To = %q, want %q", m.To, Self)
	}
	if m.ID != "MSG123" || m.Body != "hello world" {
		t.Errorf("message = %+v", m)
	}
	if m.Author != "" {
		t.Errorf("Author = %q, want empty outside groups", m.Author)
	}
	if !m.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, ts)
	}
	if m.Media != nil {
		t.Errorf("Media = %+v, want nil for text", m.Media)
	}
}

func TestParseLiveMessageFromMeInGroup(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "G1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "120363123456", Server: types.GroupServer},
				Sender:   types.JID{User: "5511999", Server: types.DefaultUserServer, Device: 2},
				IsFromMe: true,
				IsGroup:  true,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi all")},
	}

	m := ParseLiveMessage(evt)
	if m.ConversationID() != "120363123456@g.us" {
		t.Errorf("conversation = %q", m.ConversationID())
	}
	if m.Author != "5511999@s.whatsapp.net" {
		t.Errorf("Author = %q, want device-less sender", m.Author)
	}
}

// TestNormalizeJID verifies that device/agent suffixes are stripped.
// Regression: history sync and live messages produced different JIDs for the
// same contact (e.g. "558592403672:0@s.whatsapp.net" vs "558592403672@s.whatsapp.net"),
// creating duplicate conversations.
func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input types.JID
		want  string
	}{
		{types.JID{User: "558592403672", Server: types.DefaultUserServer}, "558592403672@s.whatsapp.net"},
		{types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 5}, "558592403672@s.whatsapp.net"},
		{types.JID{User: "120363123456", Server: types.GroupServer}, "120363123456@g.us"},
		{types.JID{}, ""},
		{types.JID{User: "3917077286968", Server: types.HiddenUserServer}, "3917077286968@lid"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := NormalizeJID(tt.input); got != tt.want {
				t.Errorf("NormalizeJID(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseVoiceNote(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "V1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat: types.JID{User: "c", Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			PTT:        proto.Bool(true),
			Seconds:    proto.Uint32(7),
			DirectPath: proto.String("/v/t62/abc"),
		}},
	}

	m := ParseLiveMessage(evt)
	if !m.IsVoice || m.Duration != 7 {
		t.Errorf("voice = %v duration = %d, want true 7", m.IsVoice, m.Duration)
	}
	if m.Media == nil || m.Media.Type != "audio" || m.Media.URL != "/v/t62/abc" {
		t.Errorf("Media = %+v", m.Media)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	ts := uint64(1700000000)
	info := &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:          proto.String("hm1"),
			FromMe:      proto.Bool(false),
			RemoteJID:   proto.String("120363123456@g.us"),
			Participant: proto.String("5511999:3@s.whatsapp.net"),
		},
		MessageTimestamp: &ts,
		Message:          &waE2E.Message{Conversation: proto.String("old")},
	}

	m, ok := parseHistoryMessage("120363123456@g.us", true, info)
	if !ok {
		t.Fatal("expected message to parse")
	}
	if m.From != "120363123456@g.us" || m.Author != "5511999@s.whatsapp.net" {
		t.Errorf("message = %+v", m)
	}
	if m.Timestamp.Unix() != int64(ts) {
		t.Errorf("Timestamp = %v", m.Timestamp)
	}

	if _, ok := parseHistoryMessage("x", false, &waWeb.WebMessageInfo{}); ok {
		t.Error("message without content should be skipped")
	}
}
