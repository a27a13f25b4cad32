package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/companion"
	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/janitor"
	"github.com/matheus3301/parley/internal/leveling"
	"github.com/matheus3301/parley/internal/lock"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/metrics"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/persist"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/profile"
	"github.com/matheus3301/parley/internal/readstate"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	"github.com/matheus3301/parley/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLifecycle,
			provideLock,
			provideStore,
			provideRegistry,
			provideDirectory,
			provideLog,
			provideSequencer,
			provideCoordinator,
			provideMembership,
			provideReaper,
			provideTracker,
			provideLeveler,
			provideCompanion,
			providePersister,
			provideMetrics,
			provideJanitor,
			providePresenceService,
			provideChatService,
			provideVoiceService,
			provideAdminService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, profile.EnvPath(p.Profile)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLifecycle(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Registry {
	return presence.NewRegistry(b, logger, presence.Options{Timeout: cfg.Presence.Timeout})
}

func provideDirectory(b *bus.Bus) *directory.Directory {
	return directory.New(b)
}

func provideLog(b *bus.Bus, logger *zap.Logger) *msglog.Log {
	return msglog.New(b, logger)
}

func provideSequencer() *transport.Sequencer {
	return transport.NewSequencer()
}

func provideCoordinator(cfg *config.Config, log *msglog.Log, seq *transport.Sequencer, reg *presence.Registry, dir *directory.Directory, b *bus.Bus, logger *zap.Logger) *delivery.Coordinator {
	return delivery.New(log, seq, reg, dir, b, logger, delivery.Options{
		AckTimeout: cfg.Delivery.AckTimeout,
		SendRate:   cfg.Delivery.SendRate,
		SendBurst:  cfg.Delivery.SendBurst,
	})
}

func provideMembership(reg *presence.Registry, dir *directory.Directory, b *bus.Bus, logger *zap.Logger) *membership.Manager {
	return membership.NewManager(reg, dir, b, logger)
}

func provideReaper(mgr *membership.Manager, reg *presence.Registry, b *bus.Bus, logger *zap.Logger) *membership.Reaper {
	return membership.NewReaper(mgr, reg, b, logger)
}

func provideTracker(log *msglog.Log, dir *directory.Directory, mgr *membership.Manager, reg *presence.Registry, b *bus.Bus, logger *zap.Logger) *readstate.Tracker {
	return readstate.New(log, dir, mgr, reg, b, logger)
}

func provideLeveler(cfg *config.Config, reg *presence.Registry, b *bus.Bus, logger *zap.Logger) *leveling.Leveler {
	return leveling.New(reg, b, logger, cfg.Leveling.XPPerMessage)
}

func provideCompanion(cfg *config.Config, log *msglog.Log, dir *directory.Directory, logger *zap.Logger) *companion.Service {
	var gen companion.Generator
	if c := cfg.Companion; c.Endpoint != "" {
		gen = companion.NewHTTPGenerator(c.Endpoint, c.APIKey, c.Retries, logger.Named("companion"))
	}
	return companion.NewService(log, dir, gen, cfg.Companion.BotID, cfg.Companion.Timeout, logger)
}

func providePersister(db *store.DB, b *bus.Bus, reg *presence.Registry, logger *zap.Logger) *persist.Persister {
	return persist.New(db, b, reg, logger)
}

func provideMetrics(b *bus.Bus, coord *delivery.Coordinator, logger *zap.Logger) *metrics.Collector {
	return metrics.New(b, coord, logger)
}

func provideJanitor(cfg *config.Config, coord *delivery.Coordinator, seq *transport.Sequencer, db *store.DB, m *metrics.Collector, logger *zap.Logger) (*janitor.Janitor, error) {
	return janitor.New(cfg.Janitor.Schedule, cfg.Delivery.MappingRetention, janitor.Targets{
		Deliveries: coord,
		Transport:  seq,
		Store:      db,
		Metrics:    m,
	}, logger)
}

func providePresenceService(reg *presence.Registry, mgr *membership.Manager) *api.PresenceService {
	return api.NewPresenceService(reg, mgr)
}

func provideChatService(log *msglog.Log, coord *delivery.Coordinator, dir *directory.Directory, mgr *membership.Manager, tracker *readstate.Tracker, comp *companion.Service) *api.ChatService {
	return api.NewChatService(log, coord, dir, mgr, tracker, comp)
}

func provideVoiceService(mgr *membership.Manager, dir *directory.Directory) *api.VoiceService {
	return api.NewVoiceService(mgr, dir)
}

func provideAdminService(p Params, reg *presence.Registry, dir *directory.Directory, coord *delivery.Coordinator, b *bus.Bus, j *janitor.Janitor, st *status.Machine, logger *zap.Logger) *api.AdminService {
	return api.NewAdminService(p.Profile, reg, dir, coord, b, j, st, logger)
}

type lifecycleParams struct {
	fx.In

	Config      *config.Config
	Server      *Server
	Lock        *lock.Lock
	DB          *store.DB
	Registry    *presence.Registry
	Directory   *directory.Directory
	Log         *msglog.Log
	Sequencer   *transport.Sequencer
	Coordinator *delivery.Coordinator
	Membership  *membership.Manager
	Reaper      *membership.Reaper
	Tracker     *readstate.Tracker
	Leveler     *leveling.Leveler
	Companion   *companion.Service
	Persister   *persist.Persister
	Metrics     *metrics.Collector
	Janitor     *janitor.Janitor
	State       *status.Machine
	Logger      *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			started := time.Now()
			if err := p.State.Transition(status.Restoring); err != nil {
				return err
			}
			if err := restore(p); err != nil {
				_ = p.State.Fail(err)
				return err
			}
			logger.Info("state restored", zap.Duration("took", time.Since(started)))

			// Persister subscribes first so no event emitted below is missed.
			p.Persister.Start(context.Background())
			p.Metrics.Start(context.Background())
			if addr := p.Config.Metrics.Addr; addr != "" {
				if err := p.Metrics.Serve(addr); err != nil {
					return err
				}
			}
			p.Reaper.Start(context.Background())
			p.Leveler.Start(context.Background())
			p.Registry.Start(context.Background())
			p.Janitor.Start(context.Background())

			if err := p.State.Transition(status.Ready); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := p.State.Transition(status.Draining); err != nil {
				logger.Warn("lifecycle", zap.Error(err))
			}
			p.Server.Stop(ctx)
			p.Janitor.Stop()
			p.Companion.Close()
			p.Coordinator.Close()
			p.Registry.Stop()
			p.Leveler.Stop()
			p.Reaper.Stop()
			if err := p.Metrics.Stop(ctx); err != nil {
				logger.Warn("error stopping metrics", zap.Error(err))
			}
			p.Persister.Stop()
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = p.State.Transition(status.Stopped)
			logger.Info("daemon stopped")
			return nil
		},
	})
}
