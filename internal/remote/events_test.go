package remote

import (
	"errors"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "inbound message",
			frame: `{"type":"message","data":{"id":"m1","from":"alice","to":"me","body":"hi","timestamp":"2024-01-01T10:00:00Z"}}`,
			check: func(t *testing.T, ev Event) {
				m, ok := ev.(MessageEvent)
				if !ok {
					t.Fatalf("got %T, want MessageEvent", ev)
				}
				if m.Message.ConversationID() != "alice" {
					t.Errorf("conversation = %q, want alice", m.Message.ConversationID())
				}
			},
		},
		{
			name:  "outbound message resolves to recipient",
			frame: `{"type":"message","data":{"id":"m2","from":"me","to":"bob","from_me":true,"body":"yo"}}`,
			check: func(t *testing.T, ev Event) {
				if got := ev.(MessageEvent).Message.ConversationID(); got != "bob" {
					t.Errorf("conversation = %q, want bob", got)
				}
			},
		},
		{
			name:  "delivery",
			frame: `{"type":"message_ack","data":{"conversation_id":"bob","message_id":"m2","status":"read"}}`,
			check: func(t *testing.T, ev Event) {
				d := ev.(DeliveryEvent)
				if d.MessageID != "m2" || d.Status != "read" {
					t.Errorf("delivery = %+v", d)
				}
			},
		},
		{
			name:  "logout disconnect ends session",
			frame: `{"type":"disconnected","data":{"reason":"LOGOUT"}}`,
			check: func(t *testing.T, ev Event) {
				l := ev.(LifecycleEvent)
				if !l.EndsSession() {
					t.Error("disconnected with LOGOUT reason should end the session")
				}
			},
		},
		{
			name:  "plain disconnect keeps session",
			frame: `{"type":"disconnected","data":{"reason":"NAVIGATION"}}`,
			check: func(t *testing.T, ev Event) {
				if ev.(LifecycleEvent).EndsSession() {
					t.Error("plain disconnect should not end the session")
				}
			},
		},
		{
			name:  "auth failure keeps session",
			frame: `{"type":"auth_failed","data":{"reason":"qr timeout"}}`,
			check: func(t *testing.T, ev Event) {
				l := ev.(LifecycleEvent)
				if l.Type != LifecycleAuthFailed || l.EndsSession() {
					t.Errorf("auth_failed = %+v, ends session = %v", l, l.EndsSession())
				}
			},
		},
		{
			name:  "ready without data",
			frame: `{"type":"ready"}`,
			check: func(t *testing.T, ev Event) {
				if ev.(LifecycleEvent).Type != LifecycleReady {
					t.Errorf("type = %v, want ready", ev.(LifecycleEvent).Type)
				}
			},
		},
		{
			name:  "avatar",
			frame: `{"type":"avatar","data":{"conversation_id":"alice","avatar_url":"https://x/a.png"}}`,
			check: func(t *testing.T, ev Event) {
				if ev.(AvatarEvent).AvatarRef != "https://x/a.png" {
					t.Errorf("avatar = %+v", ev)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.frame))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"typing","data":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestDecodeEventRejectsMessageWithoutAddress(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"message","data":{"id":"m1","body":"x"}}`)); err == nil {
		t.Error("expected error for message without from/to")
	}
}
