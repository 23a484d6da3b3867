package api

import (
	"fmt"
	"time"

	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

func intField(in *structpb.Struct, key string) int {
	if in == nil {
		return 0
	}
	return int(in.GetFields()[key].GetNumberValue())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}

func messageFields(m conversation.Message) map[string]any {
	out := map[string]any{
		"id":          m.ID,
		"author":      m.Author,
		"body":        m.Body,
		"timestamp":   formatTime(m.Timestamp),
		"from_me":     m.FromMe,
		"delivery":    m.Delivery.String(),
		"provisional": m.Provisional(),
		"failed":      m.Failed,
	}
	if m.ClientMsgID != "" {
		out["client_msg_id"] = m.ClientMsgID
	}
	if m.IsVoice {
		out["is_voice"] = true
		out["duration"] = m.Duration
	}
	if m.Media != nil {
		out["media"] = map[string]any{
			"url":  m.Media.URL,
			"type": m.Media.Type,
			"name": m.Media.Name,
			"size": m.Media.Size,
		}
	}
	return out
}

// summaryFields describes a conversation without its message history.
func summaryFields(c conversation.Conversation) map[string]any {
	out := map[string]any{
		"id":            c.ID,
		"display_name":  c.DisplayName,
		"avatar_ref":    c.AvatarRef,
		"is_group":      c.IsGroup,
		"unread_count":  c.UnreadCount,
		"version":       c.Version,
		"last_activity": formatTime(c.LastActivity()),
	}
	if last := c.LastMessage(); last != nil {
		out["last_message"] = messageFields(*last)
	}
	return out
}

func conversationFields(c conversation.Conversation) map[string]any {
	out := summaryFields(c)
	msgs := make([]any, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, messageFields(m))
	}
	out["messages"] = msgs
	return out
}

func outboxFields(e store.OutboxEntry) map[string]any {
	return map[string]any{
		"client_msg_id":   e.ClientMsgID,
		"conversation_id": e.ConversationID,
		"body":            e.Body,
		"status":          e.Status,
		"error":           e.ErrorMessage,
		"server_msg_id":   e.ServerMsgID,
		"created_at":      formatTime(e.CreatedAt),
		"updated_at":      formatTime(e.UpdatedAt),
	}
}

// Decoded forms used by Client.

// ConversationView is a conversation as returned by the service.
type ConversationView struct {
	ID          string
	DisplayName string
	AvatarRef   string
	IsGroup     bool
	UnreadCount int
	Version     uint64
	Messages    []MessageView
	LastMessage *MessageView
}

// MessageView is a message as returned by the service.
type MessageView struct {
	ID          string
	ClientMsgID string
	Author      string
	Body        string
	Timestamp   time.Time
	FromMe      bool
	Delivery    string
	Provisional bool
	Failed      bool
}

func decodeMessage(s *structpb.Struct) MessageView {
	f := s.GetFields()
	return MessageView{
		ID:          f["id"].GetStringValue(),
		ClientMsgID: f["client_msg_id"].GetStringValue(),
		Author:      f["author"].GetStringValue(),
		Body:        f["body"].GetStringValue(),
		Timestamp:   parseTime(f["timestamp"].GetStringValue()),
		FromMe:      f["from_me"].GetBoolValue(),
		Delivery:    f["delivery"].GetStringValue(),
		Provisional: f["provisional"].GetBoolValue(),
		Failed:      f["failed"].GetBoolValue(),
	}
}

func decodeConversation(s *structpb.Struct) ConversationView {
	f := s.GetFields()
	v := ConversationView{
		ID:          f["id"].GetStringValue(),
		DisplayName: f["display_name"].GetStringValue(),
		AvatarRef:   f["avatar_ref"].GetStringValue(),
		IsGroup:     f["is_group"].GetBoolValue(),
		UnreadCount: int(f["unread_count"].GetNumberValue()),
		Version:     uint64(f["version"].GetNumberValue()),
	}
	if last := f["last_message"].GetStructValue(); last != nil {
		m := decodeMessage(last)
		v.LastMessage = &m
	}
	for _, item := range f["messages"].GetListValue().GetValues() {
		v.Messages = append(v.Messages, decodeMessage(item.GetStructValue()))
	}
	return v
}
