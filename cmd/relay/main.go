package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delivery-sync/internal/config"
	"delivery-sync/internal/middleware"
	"delivery-sync/internal/relay"

	"go.uber.org/zap"
)

func main() {
	boot, _ := zap.NewProduction()
	cfg, err := config.Load(boot)
	if err != nil {
		boot.Fatal("invalid configuration", zap.Error(err))
	}
	if err := cfg.ForRelay(); err != nil {
		boot.Fatal("incomplete configuration", zap.Error(err))
	}

	log := boot
	if cfg.Development() {
		if dev, err := zap.NewDevelopment(); err == nil {
			log = dev
		}
	}
	defer log.Sync()

	h := relay.NewHub(log)
	go h.Run()

	authed := middleware.Authenticate([]byte(cfg.AuthKey), log)
	limiter := middleware.NewRatelimiter(20, 50*time.Millisecond)

	mux := http.NewServeMux()
	mux.Handle("/ws", limiter.Limit(authed(relay.ServeWS(h))))
	mux.Handle("/publish", limiter.Limit(authed(relay.PublishHandler(h))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.RelayPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("relay listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop
	log.Info("shutdown signal received, cleaning up")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	close(h.Quit)
	<-h.Stopped()
	log.Info("graceful shutdown complete")
}
