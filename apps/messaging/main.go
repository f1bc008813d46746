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
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/config"
	"github.com/mahaj/whisper/pkg/db"
	"github.com/mahaj/whisper/pkg/logging"
	"github.com/mahaj/whisper/pkg/telemetry"
)

const groupID = "messaging-service-group"

func main() {
	config.LoadDotenv()
	cfg, err := config.LoadServer(":8082")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Logger = logging.Service("messaging")
	telemetry.Init()

	// TODO: move schema creation into a migration step once one exists.
	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace); err != nil {
		log.Fatal().Err(err).Msg("failed to create keyspace")
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()
	if err := session.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("failed to create schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", telemetry.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener stopped")
		}
	}()

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID, db.NewMessageStore(session))
	defer consumer.Close()

	log.Info().Str("topic", cfg.KafkaTopic).Str("group", groupID).Msg("starting Kafka consumer")
	consumer.Consume(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	log.Info().Msg("messaging service stopped")
}
