package wa

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

func newTestHandler(t *testing.T, resolver JIDResolver) (*EventHandler, *Chats, <-chan bus.Event) {
	t.Helper()
	b := bus.New()
	ch, unsub := b.Subscribe(remote.Namespace, 32)
	t.Cleanup(unsub)
	chats := NewChats()
	return NewEventHandler(b, chats, resolver, zap.NewNop()), chats, ch
}

func expectEvent(t *testing.T, ch <-chan bus.Event) remote.Event {
	t.Helper()
	select {
	case evt := <-ch:
		ev, ok := evt.Payload.(remote.Event)
		if !ok {
			t.Fatalf("payload = %T, want remote.Event", evt.Payload)
		}
		if evt.Kind != ev.Kind() {
			t.Errorf("kind = %q, payload kind = %q", evt.Kind, ev.Kind())
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return nil
}

func expectNoEvent(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleLifecycle(t *testing.T) {
	tests := []struct {
		name string
		evt  any
		want remote.LifecycleEvent
	}{
		{"connected", &events.Connected{}, remote.LifecycleEvent{Type: remote.LifecycleReady}},
		{"disconnected", &events.Disconnected{}, remote.LifecycleEvent{Type: remote.LifecycleDisconnected}},
		{"paired", &events.PairSuccess{ID: types.JID{User: "1", Server: types.DefaultUserServer}}, remote.LifecycleEvent{Type: remote.LifecycleAuthenticated}},
		{"stream replaced", &events.StreamReplaced{}, remote.LifecycleEvent{Type: remote.LifecycleDisconnected, Reason: "STREAM_REPLACED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, ch := newTestHandler(t, nil)
			h.Handle(tt.evt)
			got, ok := expectEvent(t, ch).(remote.LifecycleEvent)
			if !ok || got != tt.want {
				t.Errorf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleLoggedOutEndsSessionAndClearsChats(t *testing.T) {
	h, chats, ch := newTestHandler(t, nil)
	chats.Put(remote.RawMessage{ID: "m1", From: "a@s.whatsapp.net", To: Self})

	h.Handle(&events.LoggedOut{})

	ev := expectEvent(t, ch).(remote.LifecycleEvent)
	if ev.Type != remote.LifecycleLogout || !ev.EndsSession() {
		t.Errorf("event = %+v, want session ending logout", ev)
	}
	if len(chats.Snapshot()) != 0 {
		t.Error("chat index should be cleared on logout")
	}
}

func TestHandleMessagePublishesAndIndexes(t *testing.T) {
	h, chats, ch := newTestHandler(t, nil)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			PushName:  "Alice",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 1},
				Sender: types.JID{User: "558592403672", Server: types.DefaultUserServer, Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	})

	ev := expectEvent(t, ch).(remote.MessageEvent)
	if ev.Message.ConversationID() != "558592403672@s.whatsapp.net" {
		t.Errorf("conversation = %q (device suffix not stripped)", ev.Message.ConversationID())
	}
	snap := chats.Snapshot()
	conv, ok := snap["558592403672@s.whatsapp.net"]
	if !ok {
		t.Fatal("chat not indexed")
	}
	if conv.Name != "Alice" || conv.UnreadCount != 1 || len(conv.Messages) != 1 {
		t.Errorf("indexed chat = %+v", conv)
	}
}

func TestHandleReceipt(t *testing.T) {
	h, _, ch := newTestHandler(t, nil)
	chat := types.JID{User: "bob", Server: types.DefaultUserServer}

	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: chat},
		MessageIDs:    []types.MessageID{"a", "b"},
		Type:          types.ReceiptTypeRead,
	})

	for _, want := range []string{"a", "b"} {
		d := expectEvent(t, ch).(remote.DeliveryEvent)
		if d.MessageID != want || d.Status != "read" || d.ConversationID != "bob@s.whatsapp.net" {
			t.Errorf("delivery = %+v, want %s read", d, want)
		}
	}

	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: chat},
		MessageIDs:    []types.MessageID{"c"},
		Type:          types.ReceiptTypeDelivered,
	})
	if d := expectEvent(t, ch).(remote.DeliveryEvent); d.Status != "delivered" {
		t.Errorf("status = %q, want delivered", d.Status)
	}

	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: chat},
		MessageIDs:    []types.MessageID{"d"},
		Type:          types.ReceiptTypeRetry,
	})
	expectNoEvent(t, ch)
}

func TestHandleReadSelfResetsUnread(t *testing.T) {
	h, chats, ch := newTestHandler(t, nil)
	chats.Put(remote.RawMessage{ID: "m1", From: "bob@s.whatsapp.net", To: Self})

	h.Handle(&events.Receipt{
		MessageSource: types.MessageSource{Chat: types.JID{User: "bob", Server: types.DefaultUserServer}},
		MessageIDs:    []types.MessageID{"m1"},
		Type:          types.ReceiptTypeReadSelf,
	})

	expectNoEvent(t, ch)
	if got := chats.Unread([]string{"bob@s.whatsapp.net"})["bob@s.whatsapp.net"]; got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
}

func TestHandlePicture(t *testing.T) {
	h, chats, ch := newTestHandler(t, nil)
	chats.Put(remote.RawMessage{ID: "m1", From: "bob@s.whatsapp.net", To: Self})
	jid := types.JID{User: "bob", Server: types.DefaultUserServer}

	h.Handle(&events.Picture{JID: jid, PictureID: "pic-1"})
	if a := expectEvent(t, ch).(remote.AvatarEvent); a.AvatarRef != "pic-1" {
		t.Errorf("avatar = %+v", a)
	}

	h.Handle(&events.Picture{JID: jid, PictureID: "pic-1", Remove: true})
	if a := expectEvent(t, ch).(remote.AvatarEvent); a.AvatarRef != "" {
		t.Errorf("removed avatar ref = %q, want empty", a.AvatarRef)
	}
	if got := chats.Snapshot()["bob@s.whatsapp.net"].AvatarURL; got != "" {
		t.Errorf("indexed avatar = %q, want empty", got)
	}
}

func historyConversation(id string, unread uint32, msgs ...*waWeb.WebMessageInfo) *waHistorySync.Conversation {
	conv := &waHistorySync.Conversation{
		ID:          proto.String(id),
		Name:        proto.String("Eric"),
		UnreadCount: proto.Uint32(unread),
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, &waHistorySync.HistorySyncMsg{Message: m})
	}
	return conv
}

func historyMessage(id, remoteJID, body string) *waWeb.WebMessageInfo {
	ts := uint64(time.Now().Unix())
	return &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:        proto.String(id),
			FromMe:    proto.Bool(false),
			RemoteJID: proto.String(remoteJID),
		},
		MessageTimestamp: &ts,
		Message:          &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestHandleHistorySync(t *testing.T) {
	h, chats, ch := newTestHandler(t, nil)

	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				historyConversation("558592403672:0@s.whatsapp.net", 3,
					historyMessage("hm1", "558592403672@s.whatsapp.net", "history msg"),
				),
				historyConversation("", 0),
			},
		},
	})

	if r := expectEvent(t, ch).(remote.ResyncEvent); r.Reason == "" {
		t.Error("resync should carry a reason")
	}
	snap := chats.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("chats = %d, want 1", len(snap))
	}
	conv := snap["558592403672@s.whatsapp.net"]
	if conv.Name != "Eric" || conv.UnreadCount != 3 || len(conv.Messages) != 1 {
		t.Errorf("chat = %+v", conv)
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	h, _, ch := newTestHandler(t, nil)
	h.Handle(&events.HistorySync{Data: nil})
	expectNoEvent(t, ch)
}

type fakeResolver map[string]types.JID

func (f fakeResolver) ResolveLID(_ context.Context, jid types.JID) types.JID {
	if pn, ok := f[jid.String()]; ok {
		return pn
	}
	return jid
}

// TestHistorySyncWithLIDConversation verifies that history sync conversations
// using LID JIDs land on the phone number conversation.
// Regression: LID and phone number addresses of the same contact produced two
// conversations.
func TestHistorySyncWithLIDConversation(t *testing.T) {
	resolver := fakeResolver{
		"3917077286968@lid": {User: "558592403672", Server: types.DefaultUserServer},
	}
	h, chats, ch := newTestHandler(t, resolver)

	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				historyConversation("3917077286968@lid", 1,
					historyMessage("hm1", "3917077286968@lid", "test msg"),
				),
			},
		},
	})
	expectEvent(t, ch)

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "M2",
			Timestamp: time.Now().Add(time.Second),
			MessageSource: types.MessageSource{
				Chat: types.JID{User: "558592403672", Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("live")},
	})
	expectEvent(t, ch)

	snap := chats.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("chats = %v, want a single resolved conversation", snap)
	}
	if conv := snap["558592403672@s.whatsapp.net"]; len(conv.Messages) != 2 || conv.UnreadCount != 2 {
		t.Errorf("chat = %+v", conv)
	}
}

type fakeDirectory struct {
	fakeResolver
	names map[string]string
}

func (f fakeDirectory) ContactNames(context.Context) map[string]string { return f.names }

func TestHistorySyncNamesChatsFromContacts(t *testing.T) {
	dir := fakeDirectory{names: map[string]string{
		"558592403672@s.whatsapp.net":  "Eric Contact",
		"5511999990000@s.whatsapp.net": "Dana",
	}}
	h, chats, ch := newTestHandler(t, dir)

	unnamed := historyConversation("558592403672@s.whatsapp.net", 0,
		historyMessage("hm1", "558592403672@s.whatsapp.net", "hello"))
	unnamed.Name = nil
	named := historyConversation("5511999990000@s.whatsapp.net", 0,
		historyMessage("hm2", "5511999990000@s.whatsapp.net", "hey"))

	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{unnamed, named},
		},
	})
	expectEvent(t, ch)

	snap := chats.Snapshot()
	if got := snap["558592403672@s.whatsapp.net"].Name; got != "Eric Contact" {
		t.Errorf("unnamed chat name = %q, want contact name", got)
	}
	// A name from the sync wins over the address book.
	if got := snap["5511999990000@s.whatsapp.net"].Name; got != "Eric" {
		t.Errorf("named chat name = %q, want Eric", got)
	}
}
