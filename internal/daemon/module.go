package daemon

import (
	"context"
	"errors"
	"io/fs"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/qlabs-dev/qchat/internal/account"
	"github.com/qlabs-dev/qchat/internal/bus"
	"github.com/qlabs-dev/qchat/internal/config"
	"github.com/qlabs-dev/qchat/internal/conn"
	"github.com/qlabs-dev/qchat/internal/dispatch"
	"github.com/qlabs-dev/qchat/internal/lock"
	"github.com/qlabs-dev/qchat/internal/logging"
	"github.com/qlabs-dev/qchat/internal/profile"
	"github.com/qlabs-dev/qchat/internal/state"
	"github.com/qlabs-dev/qchat/internal/store"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideSynchronizer,
			provideConnManager,
			provideProfileLookup,
			provideBridge,
			provideDispatcher,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.Account), p.Account)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(account.ConfigPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("no config file, using defaults")
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(account.Dir(p.Account))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.CacheDBPath(p.Account)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSynchronizer(db *store.DB, b *bus.Bus, logger *zap.Logger) *state.Synchronizer {
	return state.New(db, b, logger)
}

func provideConnManager(b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(b, logger)
}

func provideProfileLookup(cfg *config.Config) profile.Lookup {
	return profile.NewHTTPLookup(cfg.APIBaseURL)
}

func provideBridge(b *bus.Bus) dispatch.Bridge {
	return dispatch.NewBusBridge(b)
}

func provideDispatcher(mgr *conn.Manager, sy *state.Synchronizer, bridge dispatch.Bridge, profiles profile.Lookup, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(mgr, sy, bridge, profiles, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *conn.Manager, disp *dispatch.Dispatcher, sy *state.Synchronizer, cfg *config.Config, db *store.DB, logger *zap.Logger) {
	var sub *conn.Subscription
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			disp.Start()
			sub = mgr.AddListener(disp)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Reconnect automatically when a prior session exists.
			token, err := sy.AuthToken()
			if err == nil && token != "" {
				logger.Info("session found, connecting", zap.String("server", cfg.ServerURL))
				mgr.Connect(cfg.ServerURL, token)
			} else {
				logger.Info("no session, waiting for login")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			mgr.Disconnect()
			if sub != nil {
				sub.Cancel()
			}
			disp.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
