package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delivery-sync/internal/api"
	"delivery-sync/internal/auth"
	"delivery-sync/internal/config"
	"delivery-sync/internal/db"
	"delivery-sync/internal/delivery"
	"delivery-sync/internal/hashing"
	"delivery-sync/internal/mediator"
	"delivery-sync/internal/repository"
	"delivery-sync/internal/scheduler"
	"delivery-sync/internal/session"
	"delivery-sync/internal/surfaced"
	"delivery-sync/internal/transport"

	"go.uber.org/zap"
)

func newLogger(dev bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewExample()
	}
	return log
}

func openSurfaced(ctx context.Context, cfg *config.Config, log *zap.Logger) (surfaced.Store, func(), error) {
	switch cfg.SurfacedBackend {
	case config.BackendRedis:
		client, err := surfaced.DialRedis(cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return surfaced.NewRedisStore(client, "surfaced:"), func() { client.Close() }, nil
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSurfacedRepo(pool, log), pool.Close, nil
	default:
		store, err := surfaced.NewFileStore(cfg.SurfacedDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// logChanges reports snapshot counters whenever they move.
func logChanges(log *zap.Logger) func(delivery.Snapshot) {
	var last [4]int
	return func(s delivery.Snapshot) {
		cur := [4]int{len(s.Rooms), len(s.Messages), s.UnreadCount, len(s.Toasts)}
		if cur == last && s.Error == "" {
			return
		}
		last = cur
		log.Info("state changed",
			zap.Int("rooms", cur[0]),
			zap.String("room", s.CurrentRoomID),
			zap.Int("messages", cur[1]),
			zap.Int("unread", cur[2]),
			zap.Int("toasts", cur[3]),
			zap.Int("unreadNotifications", s.UnreadNotifications),
			zap.String("error", s.Error),
		)
	}
}

func main() {
	boot := newLogger(false)
	cfg, err := config.Load(boot)
	if err != nil {
		boot.Fatal("invalid configuration", zap.Error(err))
	}
	if err := cfg.ForSync(); err != nil {
		boot.Fatal("incomplete configuration", zap.Error(err))
	}

	log := newLogger(cfg.Development())
	defer log.Sync()

	identity, err := auth.IdentityFromToken(cfg.AuthToken)
	if err != nil {
		log.Fatal("cannot read identity from AUTH_TOKEN", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openSurfaced(ctx, cfg, log)
	if err != nil {
		log.Fatal("surfaced store unavailable", zap.String("backend", cfg.SurfacedBackend), zap.Error(err))
	}
	defer closeStore()

	features := mediator.Features{Chat: cfg.FeatureChat, Notifications: cfg.FeatureNotifications}
	sess, err := session.Start(ctx, identity, cfg.AuthToken, store, features, mediator.New(), log)
	if err != nil {
		log.Fatal("session start failed", zap.Error(err))
	}
	defer sess.Close()

	client, err := api.New(cfg.APIBaseURL, cfg.AuthToken)
	if err != nil {
		log.Fatal("api client", zap.Error(err))
	}
	push := transport.New(hashing.NewRing(0, cfg.PushURLs...), cfg.AuthToken, log)
	sched := scheduler.New(map[scheduler.Kind]time.Duration{
		scheduler.KindRooms:         cfg.RoomPollInterval,
		scheduler.KindMessages:      cfg.MessagePollInterval,
		scheduler.KindNotifications: cfg.NotificationPollInterval,
	}, log)

	hub := delivery.New(sess, client, push, sched, delivery.Options{
		HistoryPageSize: cfg.HistoryPageSize,
		MaxToasts:       cfg.MaxToasts,
	}, log)
	unsubscribe := hub.Subscribe(logChanges(log))
	hub.Start()

	if cfg.FeatureChat {
		if err := hub.LoadRooms(ctx); err != nil {
			log.Warn("initial room load failed", zap.Error(err))
		}
	}

	// SIGHUP re-reads the feature flags.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-hup:
			next, err := config.Load(log)
			if err != nil {
				log.Warn("reload failed", zap.Error(err))
				continue
			}
			sess.SetFeatures(mediator.Features{Chat: next.FeatureChat, Notifications: next.FeatureNotifications})
		}
	}

	log.Info("shutdown signal received, cleaning up")
	unsubscribe()
	hub.Stop()
	log.Info("graceful shutdown complete")
}
