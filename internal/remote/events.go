package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Bus namespace for push events entering the synchronization loop.
const Namespace = "remote."

// Event is one typed push notification from the remote service.
type Event interface {
	Kind() string
	isEvent()
}

// MessageEvent carries a new or replayed message.
type MessageEvent struct {
	Message RawMessage
}

// DeliveryEvent reports a delivery state change of a message.
type DeliveryEvent struct {
	ConversationID string
	MessageID      string
	Status         string
}

// ConversationReplacedEvent carries a full conversation that supersedes the local one.
type ConversationReplacedEvent struct {
	Conversation RawConversation
}

// LifecycleKind enumerates account lifecycle notifications.
type LifecycleKind string

const (
	LifecycleAuthenticated LifecycleKind = "authenticated"
	LifecycleReady         LifecycleKind = "ready"
	LifecycleDisconnected  LifecycleKind = "disconnected"
	LifecycleLogout        LifecycleKind = "logout"
	LifecycleReset         LifecycleKind = "reset"
	LifecycleAuthFailed    LifecycleKind = "auth_failed"
)

// LifecycleEvent reports an account lifecycle change.
type LifecycleEvent struct {
	Type   LifecycleKind
	Reason string
}

// EndsSession reports whether the event invalidates the current account
// session. A failed authentication does not: the account may still be paired
// and its journaled deletes must outlive the retry.
func (e LifecycleEvent) EndsSession() bool {
	switch e.Type {
	case LifecycleLogout, LifecycleReset:
		return true
	case LifecycleDisconnected:
		return IsLogoutReason(e.Reason)
	}
	return false
}

// IsLogoutReason reports whether a disconnect reason means the account was logged out.
func IsLogoutReason(reason string) bool {
	switch strings.ToUpper(reason) {
	case "LOGOUT", "UNPAIRED", "UNPAIRED_IDLE", "LOGGED_OUT":
		return true
	}
	return false
}

// AvatarEvent reports a changed conversation avatar. An empty ref removes it.
type AvatarEvent struct {
	ConversationID string
	AvatarRef      string
}

// ResyncEvent asks for a full snapshot reload, e.g. after the push channel
// reconnected and may have missed events.
type ResyncEvent struct {
	Reason string
}

func (MessageEvent) Kind() string              { return Namespace + "message" }
func (DeliveryEvent) Kind() string             { return Namespace + "delivery" }
func (ConversationReplacedEvent) Kind() string { return Namespace + "conversation_replaced" }
func (LifecycleEvent) Kind() string            { return Namespace + "lifecycle" }
func (AvatarEvent) Kind() string               { return Namespace + "avatar" }
func (ResyncEvent) Kind() string               { return Namespace + "resync" }

func (MessageEvent) isEvent()              {}
func (DeliveryEvent) isEvent()             {}
func (ConversationReplacedEvent) isEvent() {}
func (LifecycleEvent) isEvent()            {}
func (AvatarEvent) isEvent()               {}
func (ResyncEvent) isEvent()               {}

// ErrUnknownEvent is returned by DecodeEvent for envelopes it cannot map.
// Such frames are dropped rather than retried.
var ErrUnknownEvent = errors.New("unknown event type")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type deliveryPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status"`
}

type lifecyclePayload struct {
	Reason string `json:"reason"`
}

type avatarPayload struct {
	ConversationID string `json:"conversation_id"`
	AvatarURL      string `json:"avatar_url"`
}

// DecodeEvent maps a push frame {"type": ..., "data": ...} to a typed event.
func DecodeEvent(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "message":
		var m RawMessage
		if err := unmarshalData(env, &m); err != nil {
			return nil, err
		}
		if m.ConversationID() == "" {
			return nil, fmt.Errorf("message %q has no conversation address", m.ID)
		}
		return MessageEvent{Message: m}, nil
	case "message_ack", "delivery":
		var p deliveryPayload
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		return DeliveryEvent{ConversationID: p.ConversationID, MessageID: p.MessageID, Status: p.Status}, nil
	case "conversation_replaced", "chat_update":
		var c RawConversation
		if err := unmarshalData(env, &c); err != nil {
			return nil, err
		}
		if c.ID == "" {
			return nil, errors.New("replaced conversation has no id")
		}
		return ConversationReplacedEvent{Conversation: c}, nil
	case "avatar":
		var p avatarPayload
		if err := unmarshalData(env, &p); err != nil {
			return nil, err
		}
		return AvatarEvent{ConversationID: p.ConversationID, AvatarRef: p.AvatarURL}, nil
	case string(LifecycleAuthenticated), string(LifecycleReady), string(LifecycleDisconnected),
		string(LifecycleLogout), string(LifecycleReset), string(LifecycleAuthFailed):
		var p lifecyclePayload
		if len(env.Data) > 0 {
			if err := unmarshalData(env, &p); err != nil {
				return nil, err
			}
		}
		return LifecycleEvent{Type: LifecycleKind(env.Type), Reason: p.Reason}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
}

func unmarshalData(env envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
