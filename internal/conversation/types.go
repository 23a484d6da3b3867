// Package conversation holds the in-memory view of the user's conversations.
package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryState is the delivery progress of an outbound message.
type DeliveryState int

const (
	DeliveryPending DeliveryState = iota
	DeliverySent
	DeliveryServerAck
	DeliveryDelivered
	DeliveryRead
)

func (d DeliveryState) String() string {
	switch d {
	case DeliverySent:
		return "sent"
	case DeliveryServerAck:
		return "server_ack"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	default:
		return "pending"
	}
}

// ParseDeliveryState maps a wire status to a DeliveryState.
func ParseDeliveryState(s string) (DeliveryState, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "clock":
		return DeliveryPending, true
	case "sent":
		return DeliverySent, true
	case "server_ack", "server", "ack":
		return DeliveryServerAck, true
	case "delivered", "device":
		return DeliveryDelivered, true
	case "read", "played":
		return DeliveryRead, true
	}
	return DeliveryPending, false
}

// ProvisionalPrefix marks ids minted locally before the server confirmed a send.
const ProvisionalPrefix = "local-"

// NewProvisionalID mints a fresh provisional message id.
func NewProvisionalID() string {
	return ProvisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id was minted locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Media is an attachment reference.
type Media struct {
	URL  string
	Type string
	Name string
	Size int64
}

// Message is one message of a conversation.
type Message struct {
	ID string
	// ClientMsgID is the provisional id a confirmed message replaced, if any.
	ClientMsgID string
	Author      string
	Body        string
	Timestamp   time.Time
	FromMe      bool
	Media       *Media
	IsVoice     bool
	Duration    int
	Delivery    DeliveryState
	// Failed marks a provisional message whose send gave up.
	Failed bool
}

// Provisional reports whether the message is still awaiting server confirmation.
func (m Message) Provisional() bool {
	return IsProvisionalID(m.ID)
}

// Conversation is a chat with one contact or group.
type Conversation struct {
	ID          string
	DisplayName string
	AvatarRef   string
	IsGroup     bool
	UnreadCount int
	// Messages are kept in insertion order.
	Messages []Message
	// Version is the store version of the last mutation of this conversation.
	Version uint64
}

// LastMessage returns the most recently inserted message, or nil.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	m := c.Messages[len(c.Messages)-1]
	return &m
}

// LastActivity is the timestamp of the last message, used for ordering.
func (c *Conversation) LastActivity() time.Time {
	if m := c.LastMessage(); m != nil {
		return m.Timestamp
	}
	return time.Time{}
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.Media != nil {
			media := *m.Media
			m.Media = &media
		}
		out.Messages[i] = m
	}
	return out
}

func (c *Conversation) indexOf(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) removeAt(i int) {
	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
}
