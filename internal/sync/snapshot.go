package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"github.com/matheus3301/canteiro/internal/status"
	"go.uber.org/zap"
)

// Reason says why a snapshot load was requested. It only affects logging.
type Reason string

const (
	ReasonInitial    Reason = "initial"
	ReasonPeriodic   Reason = "periodic"
	ReasonReconnect  Reason = "reconnect"
	ReasonPostDelete Reason = "post_delete"
	ReasonManual     Reason = "manual"

	ReasonDroppedEvents Reason = "dropped_events"
)

// LoadResult describes a finished (or skipped) snapshot load.
type LoadResult struct {
	Skipped  bool
	Stats    conversation.ReplaceStats
	Duration time.Duration
}

// SnapshotLoader replaces the store with the remote's full conversation set.
// Only one load runs at a time; overlapping calls are skipped, not queued.
type SnapshotLoader struct {
	store     *conversation.Store
	client    remote.Client
	policy    *retry.Policy
	corrector *UnreadCorrector
	machine   *status.Machine
	logger    *zap.Logger
	loading   atomic.Bool
}

// NewSnapshotLoader creates a loader. corrector and machine may be nil.
func NewSnapshotLoader(st *conversation.Store, client remote.Client, policy *retry.Policy, corrector *UnreadCorrector, machine *status.Machine, logger *zap.Logger) *SnapshotLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotLoader{
		store:     st,
		client:    client,
		policy:    policy,
		corrector: corrector,
		machine:   machine,
		logger:    logger,
	}
}

// Loading reports whether a load is in flight.
func (l *SnapshotLoader) Loading() bool {
	return l.loading.Load()
}

// Load fetches and applies a snapshot. On failure the store is left untouched.
func (l *SnapshotLoader) Load(ctx context.Context, reason Reason) (LoadResult, error) {
	if !l.loading.CompareAndSwap(false, true) {
		l.logger.Debug("snapshot load already running, skipping", zap.String("reason", string(reason)))
		return LoadResult{Skipped: true}, nil
	}
	defer l.loading.Store(false)

	start := time.Now()
	base := l.store.Version()
	raw, err := retry.Run(ctx, l.policy, l.client.FetchSnapshot)
	if err != nil {
		l.logFailure(reason, err)
		if l.machine != nil && l.machine.Current() == status.Syncing {
			_ = l.machine.Transition(status.Degraded)
		}
		return LoadResult{}, fmt.Errorf("load snapshot (%s): %w", reason, err)
	}

	stats := l.store.ReplaceAll(conversationsFromRaw(raw), base)
	res := LoadResult{Stats: stats, Duration: time.Since(start)}
	if stats.Stale {
		l.logger.Info("snapshot discarded, store was cleared while fetching", zap.String("reason", string(reason)))
		return res, nil
	}
	l.logger.Info("snapshot loaded",
		zap.String("reason", string(reason)),
		zap.Int("applied", stats.Applied),
		zap.Int("kept", stats.Kept),
		zap.Int("dropped", stats.Dropped),
		zap.Int("removed", stats.Removed),
		zap.Duration("took", res.Duration),
	)

	if l.corrector != nil {
		if err := l.corrector.CorrectAll(ctx); err != nil {
			l.logger.Warn("unread correction after snapshot failed", zap.Error(err))
		}
	}
	if l.machine != nil {
		switch l.machine.Current() {
		case status.Syncing, status.Degraded:
			_ = l.machine.Transition(status.Ready)
		}
	}
	return res, nil
}

func (l *SnapshotLoader) logFailure(reason Reason, err error) {
	fields := []zap.Field{zap.String("reason", string(reason)), zap.Error(err)}
	var rerr *remote.Error
	switch {
	case reason == ReasonPostDelete:
		l.logger.Debug("post-delete snapshot refresh failed", fields...)
	case errors.As(err, &rerr) && rerr.NotReady():
		l.logger.Info("remote service not ready, snapshot deferred", fields...)
	default:
		l.logger.Warn("snapshot load failed", fields...)
	}
}
