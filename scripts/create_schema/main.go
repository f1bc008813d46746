package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/config"
	"github.com/mahaj/whisper/pkg/db"
	"github.com/mahaj/whisper/pkg/logging"
)

func main() {
	config.LoadDotenv()
	cfg, err := config.LoadServer("")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, "console", os.Stderr)

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
	log.Info().Str("keyspace", cfg.Keyspace).Msg("schema created")
}
