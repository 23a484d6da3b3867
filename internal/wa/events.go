package wa

import (
	"context"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// JIDResolver maps LID addresses to phone number JIDs.
type JIDResolver interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// contactDirectory is implemented by resolvers that also know contact names.
type contactDirectory interface {
	ContactNames(ctx context.Context) map[string]string
}

// EventHandler turns whatsmeow events into remote events on the bus and keeps
// the chat index current. It does NOT touch the conversation store; the sync
// engine consumes the bus like it would a push channel.
type EventHandler struct {
	bus      *bus.Bus
	chats    *Chats
	resolver JIDResolver
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler. resolver may be nil.
func NewEventHandler(b *bus.Bus, chats *Chats, resolver JIDResolver, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:      b,
		chats:    chats,
		resolver: resolver,
		logger:   logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.Picture:
		id := h.chatID(evt.JID)
		ref := evt.PictureID
		if evt.Remove {
			ref = ""
		}
		h.chats.SetAvatar(id, ref)
		h.publish(remote.AvatarEvent{ConversationID: id, AvatarRef: ref})
	case *events.PushName:
		h.chats.SetName(h.chatID(evt.JID), evt.NewPushName)
	case *events.PairSuccess:
		h.logger.Info("WhatsApp paired", zap.String("jid", evt.ID.String()))
		h.publish(remote.LifecycleEvent{Type: remote.LifecycleAuthenticated})
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.publish(remote.LifecycleEvent{Type: remote.LifecycleReady})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.publish(remote.LifecycleEvent{Type: remote.LifecycleDisconnected})
	case *events.StreamReplaced:
		h.logger.Warn("WhatsApp stream replaced by another client")
		h.publish(remote.LifecycleEvent{Type: remote.LifecycleDisconnected, Reason: "STREAM_REPLACED"})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.chats.Clear()
		h.publish(remote.LifecycleEvent{Type: remote.LifecycleLogout, Reason: evt.Reason.String()})
	case *events.HistorySync:
		h.handleHistorySync(evt)
	}
}

func (h *EventHandler) publish(ev remote.Event) {
	h.bus.Publish(bus.NewEvent(ev))
}

// chatID normalizes jid, resolving LIDs to phone numbers when possible.
func (h *EventHandler) chatID(jid types.JID) string {
	if h.resolver != nil {
		jid = h.resolver.ResolveLID(context.Background(), jid)
	}
	return NormalizeJID(jid)
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	msg := ParseLiveMessage(evt)
	id := h.chatID(evt.Info.Chat)
	if evt.Info.IsFromMe {
		msg.To = id
	} else {
		msg.From = id
	}
	if evt.Info.IsGroup {
		msg.Author = h.chatID(evt.Info.Sender)
	}
	if h.chats.Put(msg) {
		if evt.Info.IsGroup {
			h.chats.SetGroup(id)
		} else if !evt.Info.IsFromMe && evt.Info.PushName != "" {
			h.chats.SetName(id, evt.Info.PushName)
		}
	}
	h.publish(remote.MessageEvent{Message: msg})
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	var status string
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf, types.ReceiptTypePlayed:
		status = "read"
	default:
		return
	}
	id := h.chatID(evt.Chat)
	if evt.Type == types.ReceiptTypeReadSelf {
		// Read on another device of ours.
		h.chats.ResetUnread(id)
		return
	}
	for _, msgID := range evt.MessageIDs {
		h.publish(remote.DeliveryEvent{ConversationID: id, MessageID: msgID, Status: status})
	}
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	merged := 0
	for _, conv := range data.GetConversations() {
		jid, err := types.ParseJID(conv.GetID())
		if err != nil || jid.IsEmpty() {
			continue
		}
		id := h.chatID(jid)
		isGroup := jid.Server == types.GroupServer
		raw := remote.RawConversation{
			ID:          id,
			Name:        conv.GetName(),
			IsGroup:     isGroup,
			UnreadCount: int(conv.GetUnreadCount()),
		}
		if raw.Name == "" {
			raw.Name = conv.GetDisplayName()
		}
		for _, hm := range conv.GetMessages() {
			m, ok := parseHistoryMessage(id, isGroup, hm.GetMessage())
			if !ok {
				continue
			}
			if m.Author != "" {
				if p, err := types.ParseJID(m.Author); err == nil {
					m.Author = h.chatID(p)
				}
			}
			raw.Messages = append(raw.Messages, m)
		}
		h.chats.Merge(raw)
		merged++
	}

	if merged > 0 {
		if dir, ok := h.resolver.(contactDirectory); ok {
			// History sync only names groups and saved chats.
			named := h.chats.FillNames(dir.ContactNames(context.Background()))
			h.logger.Debug("named chats from contacts", zap.Int("count", named))
		}
		h.logger.Info("history sync merged", zap.Int("chats", merged))
		h.publish(remote.ResyncEvent{Reason: "history sync"})
	}
}
