package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/config"
	"github.com/mahaj/whisper/pkg/db"
	"github.com/mahaj/whisper/pkg/logging"
	"github.com/mahaj/whisper/pkg/presence"
	"github.com/mahaj/whisper/pkg/telemetry"
)

func main() {
	config.LoadDotenv()
	cfg, err := config.LoadServer(":8081")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Logger = logging.Service("api")
	if err := cfg.RequireJWT(); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	telemetry.Init()

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("create token signer")
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	tokens := auth.NewRegistry(rdb)
	handler := newRouter(routerDeps{
		auth:     NewAuthHandler(&redisUsers{rdb: rdb}, tokens, signer),
		history:  NewHistoryHandler(db.NewMessageStore(session)),
		presence: NewPresenceHandler(presence.NewRegistry(rdb)),
		signer:   signer,
		tokens:   tokens,
		origins:  cfg.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("API service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api http stopped")
			stop()
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("api shutdown error")
	}
	log.Info().Msg("API service stopped")
}
