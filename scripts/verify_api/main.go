package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/api"
	"github.com/mahaj/whisper/pkg/logging"
	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/session"
)

// Registers (or logs in) a throwaway user and walks the history endpoints.
func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	user := flag.String("user", "test_user", "username")
	password := flag.String("password", "test_password", "password")
	flag.Parse()
	logging.Setup("info", "console", os.Stderr)

	ctx := context.Background()
	store, err := session.NewStore(ctx, session.NewMemoryBackend())
	if err != nil {
		log.Fatal().Err(err).Msg("session store")
	}
	teardown := api.NewTeardown(store, nil)
	client := api.NewClient(*apiAddr, store, teardown)
	gw := api.NewAuthGateway(client, store, teardown)

	creds := model.Credentials{Username: *user, Password: *password}
	if _, err := gw.Register(ctx, creds); err != nil {
		var ae *api.AuthError
		if !errors.As(err, &ae) {
			log.Fatal().Err(err).Msg("register")
		}
		log.Info().Str("reason", ae.Message).Msg("register refused, logging in")
		if _, err := gw.Login(ctx, creds); err != nil {
			log.Fatal().Err(err).Msg("login")
		}
	}
	fmt.Printf("Token: %s...\n", store.Get().Token[:10])

	recent, err := client.Recent(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("recent")
	}
	log.Info().Int("count", len(recent)).Msg("recent messages")
	if len(recent) > 0 {
		older, err := client.Before(ctx, recent[len(recent)-1].ID)
		if err != nil {
			log.Fatal().Err(err).Msg("before")
		}
		log.Info().Int("count", len(older)).Msg("older messages")
	}

	users, err := client.OnlineUsers(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("online users")
	}
	log.Info().Strs("users", users).Msg("online")

	if err := gw.Logout(ctx); err != nil {
		log.Fatal().Err(err).Msg("logout")
	}
	log.Info().Msg("api verified")
}
