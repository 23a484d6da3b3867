package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/status"
	"go.uber.org/zap"
)

// Engine is the single ingress loop for remote push events. It subscribes to
// "remote.*" events on the bus and applies them to the conversation store one
// at a time.
type Engine struct {
	store     *conversation.Store
	client    remote.Client
	loader    *SnapshotLoader
	corrector *UnreadCorrector
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	resync    time.Duration

	hooksMu      gosync.Mutex
	onSessionEnd []func()

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewEngine creates a new sync engine. resync is the periodic snapshot
// interval; zero disables periodic loads.
func NewEngine(st *conversation.Store, client remote.Client, loader *SnapshotLoader, corrector *UnreadCorrector, machine *status.Machine, b *bus.Bus, resync time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     st,
		client:    client,
		loader:    loader,
		corrector: corrector,
		machine:   machine,
		bus:       b,
		logger:    logger,
		resync:    resync,
	}
}

// OnSessionEnd registers fn to run after a logout or reset wiped the store.
func (e *Engine) OnSessionEnd(fn func()) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.onSessionEnd = append(e.onSessionEnd, fn)
}

// Start subscribes to remote events on the bus and kicks off the initial snapshot.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(remote.Namespace, 1024)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()

		var tick <-chan time.Time
		if e.resync > 0 {
			ticker := time.NewTicker(e.resync)
			defer ticker.Stop()
			tick = ticker.C
		}
		dropped := e.bus.Dropped(remote.Namespace)
		for {
			select {
			case evt := <-ch:
				ev, ok := evt.Payload.(remote.Event)
				if !ok {
					e.logger.Warn("dropping remote event with unexpected payload", zap.String("kind", evt.Kind))
					continue
				}
				e.Handle(ctx, ev)
			case <-tick:
				// Dropped push events leave the store behind the remote, so
				// a full snapshot is the only way to catch up.
				if n := e.bus.Dropped(remote.Namespace); n > dropped {
					e.logger.Warn("remote events were dropped", zap.Uint64("count", n-dropped))
					dropped = n
					e.loadAsync(ctx, ReasonDroppedEvents)
					continue
				}
				if e.machine == nil || e.machine.Current() == status.Ready || e.machine.Current() == status.Degraded {
					e.loadAsync(ctx, ReasonPeriodic)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	e.loadAsync(ctx, ReasonInitial)
}

// Stop stops the engine and waits for background work.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Handle applies one remote event. Start calls it from the ingress loop;
// it is exported so callers can feed events synchronously.
func (e *Engine) Handle(ctx context.Context, ev remote.Event) {
	switch ev := ev.(type) {
	case remote.MessageEvent:
		e.onMessage(ctx, ev.Message)
	case remote.DeliveryEvent:
		e.onDelivery(ev)
	case remote.ConversationReplacedEvent:
		e.onConversationReplaced(ev.Conversation)
	case remote.LifecycleEvent:
		e.onLifecycle(ctx, ev)
	case remote.AvatarEvent:
		e.onAvatar(ev)
	case remote.ResyncEvent:
		e.logger.Info("resync requested", zap.String("reason", ev.Reason))
		e.loadAsync(ctx, ReasonReconnect)
	default:
		e.logger.Warn("unhandled remote event", zap.String("kind", ev.Kind()))
	}
}

func (e *Engine) loadAsync(ctx context.Context, reason Reason) {
	if e.loader == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Failures are logged by the loader.
		_, _ = e.loader.Load(ctx, reason)
	}()
}
