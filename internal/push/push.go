// Package push receives server push events over a websocket or an AMQP queue
// and republishes them on the bus for the sync engine.
package push

import (
	"context"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"go.uber.org/zap"
)

// Source is a push channel that runs until stopped, reconnecting on failure.
type Source interface {
	Start(ctx context.Context)
	Stop()
}

// ReconnectBackoff is the default redial schedule.
var ReconnectBackoff = retry.Options{
	BaseDelay:     500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2,
}

// dispatch decodes one frame and publishes it. Frames that cannot be decoded
// are reported so the caller can drop them.
func dispatch(b *bus.Bus, frame []byte) (remote.Event, error) {
	ev, err := remote.DecodeEvent(frame)
	if err != nil {
		return nil, err
	}
	publish(b, ev)
	return ev, nil
}

func publish(b *bus.Bus, ev remote.Event) {
	b.Publish(bus.NewEvent(ev))
}

// waitRetry sleeps for the backoff of attempt, returning false if ctx ended first.
func waitRetry(ctx context.Context, backoff *retry.Policy, attempt int, logger *zap.Logger, err error) bool {
	delay := backoff.Delay(attempt)
	logger.Warn("push channel down, reconnecting",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
