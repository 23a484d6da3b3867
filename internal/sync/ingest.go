package sync

import (
	"context"
	"time"

	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/status"
	"go.uber.org/zap"
)

const markReadTimeout = 15 * time.Second

func (e *Engine) onMessage(ctx context.Context, raw remote.RawMessage) {
	convID := raw.ConversationID()
	if convID == "" || raw.ID == "" {
		e.logger.Warn("dropping message without id or conversation", zap.String("msg_id", raw.ID))
		return
	}

	out := e.store.AddMessage(convID, messageFromRaw(raw))
	switch out.Result {
	case conversation.Ignored:
		e.logger.Debug("message for deleted conversation ignored", zap.String("conversation", convID), zap.String("msg_id", raw.ID))
		return
	case conversation.Replaced:
		e.logger.Debug("provisional message confirmed by echo", zap.String("conversation", convID), zap.String("msg_id", raw.ID))
	}
	if raw.FromMe || out.Result != conversation.Inserted {
		return
	}

	// Unread counts only ever come from the remote. The focused conversation
	// stays at zero and the remote is told the message was read.
	if convID == e.store.Focused() {
		e.store.ResetUnread(convID)
		e.markReadAsync(ctx, convID)
		return
	}
	if e.corrector != nil {
		e.corrector.Schedule(convID)
	}
}

func (e *Engine) markReadAsync(ctx context.Context, convID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markReadTimeout)
		defer cancel()
		if err := e.client.SendMarkRead(ctx, convID); err != nil {
			e.logger.Warn("mark read for focused conversation failed", zap.String("conversation", convID), zap.Error(err))
		}
	}()
}

func (e *Engine) onDelivery(ev remote.DeliveryEvent) {
	state, ok := conversation.ParseDeliveryState(ev.Status)
	if !ok {
		e.logger.Warn("unknown delivery status", zap.String("status", ev.Status), zap.String("msg_id", ev.MessageID))
		return
	}
	convID := ev.ConversationID
	if convID == "" {
		if convID, ok = e.store.FindMessage(ev.MessageID); !ok {
			return
		}
	}
	e.store.ApplyDelivery(convID, ev.MessageID, state)
}

func (e *Engine) onConversationReplaced(rc remote.RawConversation) {
	if rc.ID == "" {
		return
	}
	if !e.store.MergeConversation(conversationFromRaw(rc.ID, rc)) {
		e.logger.Debug("replaced conversation is deleted locally", zap.String("conversation", rc.ID))
	}
}

func (e *Engine) onAvatar(ev remote.AvatarEvent) {
	e.store.SetAvatar(ev.ConversationID, ev.AvatarRef)
}

func (e *Engine) onLifecycle(ctx context.Context, ev remote.LifecycleEvent) {
	e.logger.Info("account lifecycle event", zap.String("type", string(ev.Type)), zap.String("reason", ev.Reason))

	if ev.EndsSession() {
		e.store.Clear()
		e.hooksMu.Lock()
		hooks := append([]func(){}, e.onSessionEnd...)
		e.hooksMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		e.moveTo(status.AuthRequired)
		return
	}

	switch ev.Type {
	case remote.LifecycleAuthenticated:
		e.moveTo(status.Connecting)
	case remote.LifecycleReady:
		e.moveTo(status.Syncing)
		e.loadAsync(ctx, ReasonReconnect)
	case remote.LifecycleDisconnected:
		e.moveTo(status.Reconnecting)
	case remote.LifecycleAuthFailed:
		e.moveTo(status.AuthRequired)
	}
}

func (e *Engine) moveTo(s status.State) {
	if e.machine == nil {
		return
	}
	if err := e.machine.MoveTo(s); err != nil {
		e.logger.Warn("status transition failed", zap.String("to", string(s)), zap.Error(err))
	}
}
