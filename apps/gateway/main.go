package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/config"
	"github.com/mahaj/whisper/pkg/logging"
	"github.com/mahaj/whisper/pkg/presence"
	"github.com/mahaj/whisper/pkg/snowflake"
	"github.com/mahaj/whisper/pkg/telemetry"
)

func newRouter(ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", telemetry.Handler())
	r.Get("/api/ws", ws.ServeHTTP)
	return r
}

func main() {
	config.LoadDotenv()
	cfg, err := config.LoadServer(":8080")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Logger = logging.Service("gateway")
	if err := cfg.RequireJWT(); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	telemetry.Init()

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("create token signer")
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatal().Err(err).Int64("node", cfg.NodeID).Msg("failed to initialize snowflake node")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	bus := newKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := NewHub(bus, presence.NewRegistry(rdb), node)
	go hub.Run(ctx)
	go bus.Consume(ctx, hub.Deliver)

	ws := newWSHandler(hub, authenticator{signer: signer, sessions: auth.NewRegistry(rdb)}, cfg.AllowedOrigins)
	srv := &http.Server{Addr: cfg.Addr, Handler: newRouter(ws), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("gateway http stopped")
			stop()
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	<-hub.done
	log.Info().Msg("gateway service stopped")
}
