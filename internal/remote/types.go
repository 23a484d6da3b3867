package remote

import (
	"context"
	"time"
)

// Client is the remote messaging service as seen by the synchronization layer.
type Client interface {
	FetchSnapshot(ctx context.Context) (map[string]RawConversation, error)
	FetchUnreadCounts(ctx context.Context, ids []string) (map[string]int, error)
	SendDelete(ctx context.Context, id string) error
	SendMarkRead(ctx context.Context, id string) error
	SendMessage(ctx context.Context, req SendRequest) (Ack, error)
	Status(ctx context.Context) (ServiceStatus, error)
}

// Media describes an attachment as the remote service reports it.
type Media struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// RawMessage is a message in wire form.
type RawMessage struct {
	ID          string    `json:"id"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Author      string    `json:"author,omitempty"`
	Body        string    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
	FromMe      bool      `json:"from_me"`
	Media       *Media    `json:"media,omitempty"`
	IsVoice     bool      `json:"is_voice,omitempty"`
	Duration    int       `json:"duration,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// ConversationID resolves which conversation a message belongs to from its direction.
func (m RawMessage) ConversationID() string {
	if m.FromMe {
		return m.To
	}
	return m.From
}

// RawConversation is a conversation in wire form.
type RawConversation struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	IsGroup     bool         `json:"is_group,omitempty"`
	UnreadCount int          `json:"unread_count"`
	Messages    []RawMessage `json:"messages"`
}

// SendRequest is an outbound message. ClientMsgID carries the provisional id
// so the echoed message can be matched back to it.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	ClientMsgID    string `json:"client_msg_id"`
	Media          *Media `json:"media,omitempty"`
}

// Ack is the server's answer to an accepted send.
type Ack struct {
	MessageID   string    `json:"message_id"`
	ClientMsgID string    `json:"client_msg_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// ServiceStatus is the health answer of the remote service.
type ServiceStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}
