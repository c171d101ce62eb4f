package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"pigeon/internal/api"
	"pigeon/internal/auth"
	"pigeon/internal/bus"
	"pigeon/internal/chat"
	"pigeon/internal/config"
	"pigeon/internal/heartbeat"
	"pigeon/internal/lock"
	"pigeon/internal/logging"
	"pigeon/internal/outbox"
	"pigeon/internal/router"
	"pigeon/internal/session"
	"pigeon/internal/store"
	"pigeon/internal/stream"
	"pigeon/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideGuard,
			provideTokens,
			provideProfile,
			provideAPIClient,
			provideInbox,
			provideChatService,
			provideAssembler,
			provideRouter,
			provideConn,
			provideMonitor,
			provideQueue,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideGuard(b *bus.Bus, logger *zap.Logger) *auth.SessionGuard {
	return auth.NewSessionGuard(b, logger)
}

func provideTokens(cfg *config.Config) auth.TokenSource {
	return auth.Static(cfg.Auth.Token)
}

func provideProfile(cfg *config.Config) func() auth.Profile {
	profile := auth.Profile{
		UserID:   cfg.Auth.UserID,
		Nickname: cfg.Auth.Nickname,
		Avatar:   cfg.Auth.Avatar,
	}
	return func() auth.Profile { return profile }
}

func provideAPIClient(cfg *config.Config, tokens auth.TokenSource, guard *auth.SessionGuard, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.Server.APIURL, tokens, guard, logger)
}

func provideInbox() *router.Inbox {
	return router.NewInbox()
}

func provideChatService(inbox *router.Inbox, b *bus.Bus, client *api.Client, db *store.DB, profile func() auth.Profile, logger *zap.Logger) *chat.Service {
	return chat.New(inbox, b, client, db, profile, logger)
}

func provideAssembler(cfg *config.Config, svc *chat.Service, logger *zap.Logger) *stream.Assembler {
	return stream.New(svc, stream.Options{
		RevealRunes: cfg.Tuning.RevealRunes,
		RevealEvery: durationMS(cfg.Tuning.RevealEveryMS),
		QuietWindow: durationMS(cfg.Tuning.QuietWindowMS),
	}, logger)
}

func provideRouter(inbox *router.Inbox, b *bus.Bus, guard *auth.SessionGuard, profile func() auth.Profile, logger *zap.Logger) *router.Router {
	return router.New(inbox, b, guard, func() string { return profile().UserID }, logger)
}

func provideConn(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Conn {
	var factory transport.BackendFactory
	switch cfg.Socket.Backend {
	case "coder":
		factory = transport.NewCoderBackend()
	default:
		factory = transport.NewGorillaBackend()
	}
	return transport.NewConn(factory, b, logger)
}

func provideMonitor(cfg *config.Config, logger *zap.Logger) *heartbeat.Monitor {
	return heartbeat.NewMonitor(cfg.Tuning.HeartbeatInterval(), logger)
}

func provideQueue(client *api.Client, b *bus.Bus, profile func() auth.Profile, cfg *config.Config, logger *zap.Logger) *outbox.Queue {
	q := outbox.New(client, b, profile, logger)
	if d := cfg.Tuning.QueuePassDelay(); d > 0 {
		q.SetPassDelay(d)
	}
	return q
}

func provideClient(conn *transport.Conn, monitor *heartbeat.Monitor, guard *auth.SessionGuard, tokens auth.TokenSource, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *Client {
	return NewClient(conn, monitor, guard, tokens, cfg.Server.WSURL, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, conn *transport.Conn, rt *router.Router, svc *chat.Service, asm *stream.Assembler, q *outbox.Queue, client *Client, logger *zap.Logger) {
	runCtx, cancelRun := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			svc.SetStreamer(asm)
			conn.OnMessage(rt.HandleFrame)

			if err := svc.LoadContacts(); err != nil {
				logger.Warn("loading stored contacts", zap.Error(err))
			}
			go svc.Run(runCtx)

			q.Start()
			client.Start()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			client.Stop()
			q.Stop()
			asm.Reset()
			cancelRun()
			if err := db.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
