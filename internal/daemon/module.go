// Package daemon composes the chirpd process out of its services.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chirpchat/chirp/internal/analysis"
	"github.com/chirpchat/chirp/internal/appstate"
	"github.com/chirpchat/chirp/internal/bus"
	"github.com/chirpchat/chirp/internal/config"
	"github.com/chirpchat/chirp/internal/delivery"
	"github.com/chirpchat/chirp/internal/ingest"
	"github.com/chirpchat/chirp/internal/lock"
	"github.com/chirpchat/chirp/internal/logging"
	"github.com/chirpchat/chirp/internal/notify"
	"github.com/chirpchat/chirp/internal/outbox"
	"github.com/chirpchat/chirp/internal/remote"
	"github.com/chirpchat/chirp/internal/retry"
	"github.com/chirpchat/chirp/internal/session"
	"github.com/chirpchat/chirp/internal/store"
	"github.com/chirpchat/chirp/internal/suggest"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideTracker,
			provideLock,
			provideStore,
			provideDelivery,
			provideRetryQueue,
			provideTransport,
			provideIngestEngine,
			provideSender,
			provideSink,
			providePipeline,
			provideAnalysisClient,
			provideIngestor,
			provideSuggestService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker(b *bus.Bus) *appstate.Tracker {
	return appstate.NewTracker(b)
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
	dbPath := session.CacheDBPath(p.SessionName)
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

func provideDelivery(db *store.DB, b *bus.Bus, logger *zap.Logger) *delivery.Store {
	return delivery.NewStore(db, b, logger)
}

func provideRetryQueue(cfg *config.Config, logger *zap.Logger) *retry.Queue {
	return retry.NewQueue(retry.Config{
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		Multiplier: cfg.Retry.Multiplier,
		Throttle:   time.Duration(cfg.Retry.ThrottleMS) * time.Millisecond,
	}, logger)
}

// provideTransport wires the message service connection. Without a real
// transport configured, the loopback echoes sends back as confirmations
// so the full optimistic-send path still runs.
func provideTransport(cfg *config.Config, b *bus.Bus) remote.MessageSender {
	return remote.NewLoopback(b, cfg.UserID)
}

func provideIngestEngine(db *store.DB, b *bus.Bus, d *delivery.Store, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, d, logger)
}

func provideSender(cfg *config.Config, db *store.DB, ms remote.MessageSender, d *delivery.Store, q *retry.Queue, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, ms, d, q, b, cfg.UserID, logger)
}

func provideSink(logger *zap.Logger) notify.Sink {
	return notify.NewLogSink(logger)
}

func providePipeline(cfg *config.Config, tracker *appstate.Tracker, db *store.DB, sink notify.Sink, q *retry.Queue, b *bus.Bus, logger *zap.Logger) *notify.Pipeline {
	prefs := func() config.Notifications { return cfg.Notifications }
	return notify.NewPipeline(prefs, tracker, db, sink, q, b, logger)
}

func provideAnalysisClient(cfg *config.Config, logger *zap.Logger) (*analysis.Client, error) {
	if !cfg.Analysis.Enabled {
		return nil, nil
	}
	return analysis.NewClient(analysis.Config{
		Endpoint: cfg.Analysis.Endpoint,
		APIKey:   cfg.Analysis.APIKey,
		Timeout:  cfg.AnalysisTimeout(),
	}, logger)
}

func provideIngestor(db *store.DB, b *bus.Bus, logger *zap.Logger) *suggest.Ingestor {
	return suggest.NewIngestor(db, b, logger)
}

func provideSuggestService(cfg *config.Config, client *analysis.Client, db *store.DB, b *bus.Bus, ing *suggest.Ingestor, logger *zap.Logger) *suggest.Service {
	return suggest.NewService(cfg.Analysis, cfg.UserID, client, db, b, ing, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	engine *ingest.Engine,
	sender *outbox.Sender,
	pipeline *notify.Pipeline,
	svc *suggest.Service,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			pipeline.Start(context.Background())
			svc.Start(context.Background())
			sender.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("diagnostics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			svc.Stop()
			pipeline.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
