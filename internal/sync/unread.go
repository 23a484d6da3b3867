package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"go.uber.org/zap"
)

// UnreadCorrector is the only writer of unread counts. It fetches
// authoritative counts from the remote and applies them unless the user
// reset the count in the meantime.
type UnreadCorrector struct {
	store    *conversation.Store
	client   remote.Client
	policy   *retry.Policy
	debounce time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     gosync.Mutex
	timers map[string]*pendingCorrection
	seq    uint64
	closed bool
	wg     gosync.WaitGroup
}

type pendingCorrection struct {
	timer *time.Timer
	seq   uint64
}

// NewUnreadCorrector creates a corrector that coalesces requests for the same
// conversation arriving within debounce.
func NewUnreadCorrector(st *conversation.Store, client remote.Client, policy *retry.Policy, debounce time.Duration, logger *zap.Logger) *UnreadCorrector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnreadCorrector{
		store:    st,
		client:   client,
		policy:   policy,
		debounce: debounce,
		timeout:  30 * time.Second,
		logger:   logger,
		timers:   make(map[string]*pendingCorrection),
	}
}

// Schedule requests a correction of id after the debounce window.
func (c *UnreadCorrector) Schedule(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if p, ok := c.timers[id]; ok && p.timer.Stop() {
		c.wg.Done()
	}
	c.seq++
	seq := c.seq
	c.wg.Add(1)
	c.timers[id] = &pendingCorrection{
		seq: seq,
		timer: time.AfterFunc(c.debounce, func() {
			defer c.wg.Done()
			c.mu.Lock()
			if p, ok := c.timers[id]; ok && p.seq == seq {
				delete(c.timers, id)
			}
			c.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.Correct(ctx, id); err != nil {
				c.logger.Warn("unread correction failed", zap.String("conversation", id), zap.Error(err))
			}
		}),
	}
}

// Correct fetches and applies the unread count of one conversation now.
func (c *UnreadCorrector) Correct(ctx context.Context, id string) error {
	if id == c.store.Focused() {
		return nil
	}
	return c.apply(ctx, []string{id})
}

// CorrectAll refreshes every unfocused conversation in one request.
func (c *UnreadCorrector) CorrectAll(ctx context.Context) error {
	focused := c.store.Focused()
	var ids []string
	for _, id := range c.store.IDs() {
		if id != focused {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return c.apply(ctx, ids)
}

func (c *UnreadCorrector) apply(ctx context.Context, ids []string) error {
	base := c.store.Version()
	counts, err := retry.Run(ctx, c.policy, func(ctx context.Context) (map[string]int, error) {
		return c.client.FetchUnreadCounts(ctx, ids)
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		n, ok := counts[id]
		if !ok {
			continue
		}
		if c.store.SetUnread(id, n, base) {
			c.logger.Debug("unread count corrected", zap.String("conversation", id), zap.Int("unread", n))
		}
	}
	return nil
}

// Stop cancels pending corrections and waits for running ones.
func (c *UnreadCorrector) Stop() {
	c.mu.Lock()
	c.closed = true
	for id, p := range c.timers {
		if p.timer.Stop() {
			c.wg.Done()
		}
		delete(c.timers, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
