package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/matheus3301/canteiro/internal/api"
	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/config"
	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/lock"
	"github.com/matheus3301/canteiro/internal/logging"
	"github.com/matheus3301/canteiro/internal/mutation"
	"github.com/matheus3301/canteiro/internal/outbox"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"github.com/matheus3301/canteiro/internal/session"
	"github.com/matheus3301/canteiro/internal/status"
	"github.com/matheus3301/canteiro/internal/store"
	intsync "github.com/matheus3301/canteiro/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default

	// Dir overrides the session directory, for tests.
	Dir string
	// Config overrides sessions/<name>/session.toml, for tests.
	Config *config.SessionConfig
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

func (p Params) file(name string, def func(string) string) string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, name)
	}
	return def(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideJournal,
			provideConversationStore,
			provideRetryPolicy,
			provideCritical,
			provideTransport,
			provideRemoteClient,
			provideCorrector,
			provideSnapshotLoader,
			provideSyncEngine,
			provideCoordinator,
			provideProber,
			provideSweeper,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (config.SessionConfig, error) {
	if p.Config != nil {
		return *p.Config, p.Config.Validate()
	}
	return config.LoadSession(session.ConfigFile(p.SessionName))
}

func provideLogger(p Params, cfg config.SessionConfig) (*zap.Logger, error) {
	return logging.New(p.file(filepath.Join("logs", "canteirod.log"), session.LogPath), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, cfg config.SessionConfig, logger *zap.Logger) (*lock.Lock, error) {
	if p.Dir == "" {
		if err := session.EnsureDir(p.SessionName); err != nil {
			return nil, err
		}
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir(), cfg.Transport)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("transport", cfg.Transport))
	return l, nil
}

// provideJournal takes the lock so the journal is only opened by its owner.
func provideJournal(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.file("journal.db", session.JournalPath)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed() {
		logger.Info("journal schema migrated", zap.Uint("from", result.From), zap.Uint("to", result.To))
	}
	logger.Info("journal opened", zap.String("path", db.Path()), zap.Uint("schema", result.To))
	return db, nil
}

func provideConversationStore(b *bus.Bus, cfg config.SessionConfig) *conversation.Store {
	return conversation.NewStore(b, conversation.Options{
		DedupTolerance: cfg.Sync.DedupTolerance.Duration,
		TombstoneTTL:   cfg.Sync.TombstoneTTL.Duration,
	})
}

func retryOptions(rc config.RetryConfig) retry.Options {
	return retry.Options{
		MaxAttempts:   rc.MaxAttempts,
		BaseDelay:     rc.BaseDelay.Duration,
		MaxDelay:      rc.MaxDelay.Duration,
		BackoffFactor: rc.BackoffFactor,
	}
}

func provideRetryPolicy(cfg config.SessionConfig, logger *zap.Logger) *retry.Policy {
	return retry.New(retryOptions(cfg.Retry), logger)
}

func provideCritical(cfg config.SessionConfig, logger *zap.Logger) *retry.Critical {
	return retry.NewCritical(retryOptions(cfg.Critical), logger)
}

func provideRemoteClient(t *Transport) remote.Client {
	return t.Client
}

func provideCorrector(st *conversation.Store, client remote.Client, policy *retry.Policy, cfg config.SessionConfig, logger *zap.Logger) *intsync.UnreadCorrector {
	return intsync.NewUnreadCorrector(st, client, policy, cfg.Sync.UnreadDebounce.Duration, logger)
}

func provideSnapshotLoader(st *conversation.Store, client remote.Client, policy *retry.Policy, corrector *intsync.UnreadCorrector, machine *status.Machine, logger *zap.Logger) *intsync.SnapshotLoader {
	return intsync.NewSnapshotLoader(st, client, policy, corrector, machine, logger)
}

func provideSyncEngine(st *conversation.Store, client remote.Client, loader *intsync.SnapshotLoader, corrector *intsync.UnreadCorrector, machine *status.Machine, b *bus.Bus, cfg config.SessionConfig, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(st, client, loader, corrector, machine, b, cfg.Sync.ResyncInterval.Duration, logger)
}

func provideCoordinator(st *conversation.Store, client remote.Client, policy *retry.Policy, critical *retry.Critical, loader *intsync.SnapshotLoader, db *store.DB, cfg config.SessionConfig, logger *zap.Logger) *mutation.Coordinator {
	return mutation.NewCoordinator(st, client, policy, critical, loader, db, mutation.Options{
		DeleteFallback:    cfg.Sync.DeleteFallback,
		BackgroundTimeout: cfg.Remote.Timeout.Duration,
	}, logger)
}

func provideProber(client remote.Client, machine *status.Machine, cfg config.SessionConfig, logger *zap.Logger) *status.Prober {
	return status.NewProber(client, machine, cfg.Sync.StatusInterval.Duration, logger)
}

func provideSweeper(db *store.DB, cfg config.SessionConfig, logger *zap.Logger) *outbox.Sweeper {
	return outbox.NewSweeper(db, cfg.Sync.OutboxRetention.Duration, logger)
}

func provideService(p Params, st *conversation.Store, coord *mutation.Coordinator, machine *status.Machine, b *bus.Bus, db *store.DB, t *Transport) *api.Service {
	var auth api.Authenticator
	if t.Adapter != nil {
		auth = t.Adapter
	}
	return api.NewService(p.SessionName, st, coord, machine, b, db, auth)
}

type lifecycleDeps struct {
	fx.In

	Config    config.SessionConfig
	Server    *Server
	Lock      *lock.Lock
	Journal   *store.DB
	Transport *Transport
	Engine    *intsync.Engine
	Corrector *intsync.UnreadCorrector
	Coord     *mutation.Coordinator
	Prober    *status.Prober
	Sweeper   *outbox.Sweeper
	Machine   *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			if err := d.Coord.RestorePending(); err != nil {
				logger.Warn("restoring pending deletes failed", zap.Error(err))
			}
			d.Engine.OnSessionEnd(d.Coord.ForgetSession)
			d.Sweeper.Start(ctx)

			// The REST collaborator has no login step; go straight to the
			// first snapshot.
			if d.Transport.Adapter == nil {
				if err := d.Machine.MoveTo(status.Syncing); err != nil {
					return fmt.Errorf("enter syncing: %w", err)
				}
			}

			d.Engine.Start(ctx)
			d.Coord.Start(ctx, d.Config.Sync.ResyncInterval.Duration)
			d.Transport.Start(ctx)
			d.Prober.Start(ctx)

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if d.Transport.Adapter != nil {
				if d.Transport.Adapter.IsLoggedIn() {
					_ = d.Machine.Transition(status.Connecting)
					go func() {
						if err := d.Transport.Adapter.Connect(); err != nil {
							logger.Error("auto-connect failed", zap.Error(err))
							_ = d.Machine.Transition(status.Error)
						}
					}()
				} else {
					logger.Info("no credentials found, auth required")
					_ = d.Machine.Transition(status.AuthRequired)
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Server.Stop(ctx)
			d.Prober.Stop()
			d.Transport.Stop()
			d.Coord.Stop()
			d.Engine.Stop()
			d.Corrector.Stop()
			d.Sweeper.Stop()
			if err := d.Journal.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
