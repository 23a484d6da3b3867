// Package outbox keeps the send journal consistent across daemon restarts.
package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Journal is the part of the send journal the sweeper maintains.
type Journal interface {
	FailInterruptedOutbox(before time.Time) (int64, error)
	PruneOutbox(before time.Time) (int64, error)
}

// Sweeper fails sends a previous run left unfinished and prunes finished
// entries older than the retention window.
type Sweeper struct {
	journal   Journal
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSweeper creates a sweeper. A zero retention keeps finished entries forever.
func NewSweeper(j Journal, retention time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{journal: j, retention: retention, interval: time.Hour, logger: logger}
}

// Start fails interrupted sends, then prunes now and every hour.
func (s *Sweeper) Start(ctx context.Context) {
	startedAt := time.Now()
	if n, err := s.journal.FailInterruptedOutbox(startedAt); err != nil {
		s.logger.Error("failed to sweep interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Warn("sends interrupted by restart marked failed", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.prune()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweeper loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) prune() {
	if s.retention <= 0 {
		return
	}
	n, err := s.journal.PruneOutbox(time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("failed to prune outbox", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("outbox pruned", zap.Int64("entries", n))
	}
}
