// Package mutation carries out user actions against the remote service and
// the local conversation store.
package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"github.com/matheus3301/canteiro/internal/store"
	intsync "github.com/matheus3301/canteiro/internal/sync"
	"go.uber.org/zap"
)

// Journal persists what must survive a restart: deletes the remote has not
// confirmed yet and the outcome of sends.
type Journal interface {
	AddPendingDelete(id, cause string) error
	TouchPendingDelete(id, lastErr string) error
	ResolvePendingDelete(id string) error
	PendingDeletes() ([]store.PendingDelete, error)
	ClearPendingDeletes() error

	QueueOutbox(clientMsgID, chatID, body string) error
	MarkOutboxSending(clientMsgID string) error
	MarkOutboxSent(clientMsgID, serverMsgID string) error
	MarkOutboxFailed(clientMsgID, errMsg string) error
	DiscardOutbox(clientMsgID string) error
}

// Refresher reloads the full conversation snapshot.
type Refresher interface {
	Load(ctx context.Context, reason intsync.Reason) (intsync.LoadResult, error)
}

// DeleteState tracks a conversation delete.
type DeleteState int

const (
	DeleteIdle DeleteState = iota
	Deleting
	DeleteFailed
)

// Options tunes the coordinator.
type Options struct {
	// DeleteFallback journals a delete that exhausted its retries and reports
	// success, instead of surfacing the error.
	DeleteFallback bool
	// BackgroundTimeout bounds fire-and-forget remote calls.
	BackgroundTimeout time.Duration
}

// Coordinator applies user mutations: send, delete, mark read and focus.
type Coordinator struct {
	store     *conversation.Store
	client    remote.Client
	policy    *retry.Policy
	critical  *retry.Critical
	refresher Refresher
	journal   Journal
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	deletes map[string]DeleteState
	sending map[string]bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewCoordinator creates a coordinator. journal and refresher may be nil.
func NewCoordinator(st *conversation.Store, client remote.Client, policy *retry.Policy, critical *retry.Critical, refresher Refresher, journal Journal, opts Options, logger *zap.Logger) *Coordinator {
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     st,
		client:    client,
		policy:    policy,
		critical:  critical,
		refresher: refresher,
		journal:   journal,
		opts:      opts,
		logger:    logger,
		deletes:   make(map[string]DeleteState),
		sending:   make(map[string]bool),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}
}

// DeleteState reports the delete state of a conversation.
func (c *Coordinator) DeleteState(id string) DeleteState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes[id]
}

// Delete removes a conversation remotely and locally. Deleting an id the
// store does not hold succeeds without contacting the remote. A second
// delete of the same id while one is running fails with ErrDeleteInProgress.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if !c.store.Has(id) {
		c.logger.Debug("delete of unknown conversation ignored", zap.String("conversation", id))
		return nil
	}

	c.mu.Lock()
	if c.deletes[id] == Deleting {
		c.mu.Unlock()
		return Translate(ErrDeleteInProgress)
	}
	c.deletes[id] = Deleting
	c.mu.Unlock()

	var fallback func(error) error
	if c.opts.DeleteFallback && c.journal != nil {
		fallback = func(cause error) error {
			return c.journal.AddPendingDelete(id, cause.Error())
		}
	}
	fellBack, err := c.critical.Run(ctx, func(ctx context.Context) error {
		return c.client.SendDelete(ctx, id)
	}, fallback)
	if remote.IsNotFound(err) {
		c.logger.Info("conversation already gone remotely", zap.String("conversation", id))
		err = nil
	}
	if err != nil {
		c.setDeleteState(id, DeleteFailed)
		c.logger.Warn("delete conversation failed", zap.String("conversation", id), zap.Error(err))
		return Translate(err)
	}

	c.store.Remove(id, !fellBack)
	c.setDeleteState(id, DeleteIdle)
	if fellBack {
		c.logger.Warn("remote delete queued for retry", zap.String("conversation", id))
	} else {
		c.logger.Info("conversation deleted", zap.String("conversation", id))
	}

	if c.refresher != nil {
		c.background(func(ctx context.Context) {
			// The snapshot loader logs its own failures; nothing to surface here.
			_, _ = c.refresher.Load(ctx, intsync.ReasonPostDelete)
		})
	}
	return nil
}

func (c *Coordinator) setDeleteState(id string, s DeleteState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == DeleteIdle {
		delete(c.deletes, id)
		return
	}
	c.deletes[id] = s
}

// Send appends a provisional message and sends it. On failure the message
// stays in the conversation flagged as failed. Sending the same body as an
// existing failed message resends that message instead of adding another.
func (c *Coordinator) Send(ctx context.Context, convID, body string, media *conversation.Media) (conversation.Message, error) {
	if convID == "" {
		return conversation.Message{}, &UserError{Kind: UserErrorInvalid, Message: "no conversation selected"}
	}
	if strings.TrimSpace(body) == "" && media == nil {
		return conversation.Message{}, Translate(ErrEmptyMessage)
	}
	if prev, ok := c.failedDuplicate(convID, body); ok {
		c.logger.Debug("resending failed message with identical body", zap.String("msg_id", prev.ID))
		return c.Resend(ctx, convID, prev.ID)
	}

	msg := conversation.Message{
		ID:        conversation.NewProvisionalID(),
		Body:      body,
		FromMe:    true,
		Timestamp: time.Now(),
		Media:     media,
		Delivery:  conversation.DeliveryPending,
	}
	c.store.AddMessage(convID, msg)
	c.journalErr("queue outbox", c.journalDo(func(j Journal) error { return j.QueueOutbox(msg.ID, convID, body) }))
	return c.deliver(ctx, convID, msg)
}

// Resend retries a failed provisional message.
func (c *Coordinator) Resend(ctx context.Context, convID, msgID string) (conversation.Message, error) {
	msg, err := c.failedMessage(convID, msgID)
	if err != nil {
		return conversation.Message{}, err
	}
	c.store.ClearFailed(convID, msgID)
	msg.Failed = false
	return c.deliver(ctx, convID, msg)
}

// Discard drops a failed provisional message.
func (c *Coordinator) Discard(convID, msgID string) error {
	if _, err := c.failedMessage(convID, msgID); err != nil {
		return err
	}
	c.store.RemoveMessage(convID, msgID)
	c.journalErr("discard outbox", c.journalDo(func(j Journal) error { return j.DiscardOutbox(msgID) }))
	return nil
}

func (c *Coordinator) failedMessage(convID, msgID string) (conversation.Message, error) {
	conv, ok := c.store.Get(convID)
	if !ok {
		return conversation.Message{}, Translate(&remote.Error{Kind: remote.KindNotFound, Op: "resend"})
	}
	for _, m := range conv.Messages {
		if m.ID == msgID {
			if !m.Provisional() || !m.Failed {
				return conversation.Message{}, &UserError{Kind: UserErrorInvalid, Message: "message is not a failed send"}
			}
			return m, nil
		}
	}
	return conversation.Message{}, &UserError{Kind: UserErrorInvalid, Message: "message not found"}
}

func (c *Coordinator) failedDuplicate(convID, body string) (conversation.Message, bool) {
	conv, ok := c.store.Get(convID)
	if !ok {
		return conversation.Message{}, false
	}
	for _, m := range conv.Messages {
		if m.Provisional() && m.Failed && strings.TrimSpace(m.Body) == strings.TrimSpace(body) {
			return m, true
		}
	}
	return conversation.Message{}, false
}

func (c *Coordinator) deliver(ctx context.Context, convID string, msg conversation.Message) (conversation.Message, error) {
	c.mu.Lock()
	if c.sending[msg.ID] {
		c.mu.Unlock()
		return msg, &UserError{Kind: UserErrorBusy, Message: "message is already being sent"}
	}
	c.sending[msg.ID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.sending, msg.ID)
		c.mu.Unlock()
	}()

	c.journalErr("mark outbox sending", c.journalDo(func(j Journal) error { return j.MarkOutboxSending(msg.ID) }))
	req := remote.SendRequest{ConversationID: convID, Body: msg.Body, ClientMsgID: msg.ID}
	if msg.Media != nil {
		req.Media = &remote.Media{URL: msg.Media.URL, Type: msg.Media.Type, Name: msg.Media.Name, Size: msg.Media.Size}
	}

	ack, err := retry.Run(ctx, c.policy, func(ctx context.Context) (remote.Ack, error) {
		return c.client.SendMessage(ctx, req)
	})
	if err != nil {
		c.store.MarkFailed(convID, msg.ID)
		c.journalErr("mark outbox failed", c.journalDo(func(j Journal) error { return j.MarkOutboxFailed(msg.ID, err.Error()) }))
		c.logger.Warn("send message failed", zap.String("conversation", convID), zap.String("client_msg_id", msg.ID), zap.Error(err))
		msg.Failed = true
		return msg, Translate(err)
	}

	c.store.ConfirmProvisional(convID, msg.ID, ack.MessageID, ack.Timestamp)
	c.journalErr("mark outbox sent", c.journalDo(func(j Journal) error { return j.MarkOutboxSent(msg.ID, ack.MessageID) }))
	c.logger.Info("message sent", zap.String("client_msg_id", msg.ID), zap.String("server_msg_id", ack.MessageID))

	msg.ClientMsgID = msg.ID
	msg.ID = ack.MessageID
	msg.Delivery = max(msg.Delivery, conversation.DeliveryServerAck)
	if !ack.Timestamp.IsZero() {
		msg.Timestamp = ack.Timestamp
	}
	return msg, nil
}

// MarkRead zeroes the unread count now and tells the remote in the
// background. Remote failures are only logged.
func (c *Coordinator) MarkRead(ctx context.Context, id string) error {
	if !c.store.ResetUnread(id) {
		return nil
	}
	c.background(func(ctx context.Context) {
		if err := c.policy.Do(ctx, func(ctx context.Context) error {
			return c.client.SendMarkRead(ctx, id)
		}); err != nil {
			c.logger.Warn("remote mark read failed", zap.String("conversation", id), zap.Error(err))
		}
	})
	return nil
}

// SetFocused records which conversation the user is viewing and marks it
// read. An empty id clears the focus.
func (c *Coordinator) SetFocused(ctx context.Context, id string) error {
	if err := c.store.SetFocus(id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return &UserError{Kind: UserErrorNotFound, Message: "the conversation no longer exists", Err: err}
		}
		return Translate(err)
	}
	if id == "" {
		return nil
	}
	return c.MarkRead(ctx, id)
}

// Refresh reloads the snapshot on user request.
func (c *Coordinator) Refresh(ctx context.Context) (intsync.LoadResult, error) {
	if c.refresher == nil {
		return intsync.LoadResult{Skipped: true}, nil
	}
	res, err := c.refresher.Load(ctx, intsync.ReasonManual)
	if err != nil {
		return res, Translate(err)
	}
	return res, nil
}

// RestorePending tombstones every journaled delete so snapshots cannot bring
// those conversations back before the remote confirms.
func (c *Coordinator) RestorePending() error {
	if c.journal == nil {
		return nil
	}
	entries, err := c.journal.PendingDeletes()
	if err != nil {
		return err
	}
	for _, e := range entries {
		c.store.AddPendingTombstone(e.ConversationID, e.QueuedAt)
	}
	if len(entries) > 0 {
		c.logger.Info("restored pending deletes", zap.Int("count", len(entries)))
	}
	return nil
}

// ReplayPendingDeletes retries every journaled delete once. It returns how
// many were confirmed.
func (c *Coordinator) ReplayPendingDeletes(ctx context.Context) (int, error) {
	if c.journal == nil {
		return 0, nil
	}
	entries, err := c.journal.PendingDeletes()
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, e := range entries {
		id := e.ConversationID
		if c.store.Has(id) {
			// A newer message recreated the conversation; the old delete is moot.
			c.logger.Info("dropping pending delete for recreated conversation", zap.String("conversation", id))
			c.journalErr("resolve pending delete", c.journal.ResolvePendingDelete(id))
			continue
		}
		err := c.policy.Do(ctx, func(ctx context.Context) error {
			return c.client.SendDelete(ctx, id)
		})
		if err == nil || remote.IsNotFound(err) {
			c.journalErr("resolve pending delete", c.journal.ResolvePendingDelete(id))
			c.store.ConfirmTombstone(id)
			resolved++
			continue
		}
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		c.logger.Warn("pending delete still failing", zap.String("conversation", id), zap.Int("attempts", e.Attempts+1), zap.Error(err))
		c.journalErr("touch pending delete", c.journal.TouchPendingDelete(id, err.Error()))
	}
	return resolved, nil
}

// Start replays pending deletes now and then every interval.
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		replay := func() {
			if n, err := c.ReplayPendingDeletes(ctx); err != nil {
				c.logger.Warn("replaying pending deletes failed", zap.Error(err))
			} else if n > 0 {
				c.logger.Info("pending deletes confirmed", zap.Int("count", n))
			}
		}
		replay()
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				replay()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ForgetSession drops journaled deletes of an account that logged out.
func (c *Coordinator) ForgetSession() {
	if c.journal == nil {
		return
	}
	c.journalErr("clear pending deletes", c.journal.ClearPendingDeletes())
}

// Stop cancels background work and waits for it.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.bgCancel()
	c.wg.Wait()
}

func (c *Coordinator) background(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.bgCtx, c.opts.BackgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Coordinator) journalDo(fn func(j Journal) error) error {
	if c.journal == nil {
		return nil
	}
	return fn(c.journal)
}

func (c *Coordinator) journalErr(op string, err error) {
	if err != nil {
		c.logger.Error("journal write failed", zap.String("op", op), zap.Error(err))
	}
}
