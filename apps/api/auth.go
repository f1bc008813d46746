package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/telemetry"
)

const (
	minUsernameLen = 4
	minPasswordLen = 6
)

type userStore interface {
	// Create stores a new user and reports false if the name is taken.
	Create(ctx context.Context, username string, hash []byte) (bool, error)
	PasswordHash(ctx context.Context, username string) ([]byte, error)
}

type tokenRegistry interface {
	Activate(ctx context.Context, claims *auth.Claims) error
	Check(ctx context.Context, claims *auth.Claims) error
	Revoke(ctx context.Context, username string) error
}

type AuthHandler struct {
	users    userStore
	tokens   tokenRegistry
	signer   *auth.Signer
	hashCost int
}

func NewAuthHandler(users userStore, tokens tokenRegistry, signer *auth.Signer) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, signer: signer, hashCost: bcrypt.DefaultCost}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (model.Credentials, bool) {
	var creds model.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&creds); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return creds, false
	}
	creds.Username = strings.TrimSpace(creds.Username)
	return creds, true
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	if len(creds.Username) < minUsernameLen {
		telemetry.IncVec(telemetry.LoginsTotal, "register", "invalid")
		http.Error(w, "Username must be at least 4 characters long", http.StatusBadRequest)
		return
	}
	if len(creds.Password) < minPasswordLen {
		telemetry.IncVec(telemetry.LoginsTotal, "register", "invalid")
		http.Error(w, "Password must be at least 6 characters long", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), h.hashCost)
	if err != nil {
		log.Error().Err(err).Msg("hash password")
		http.Error(w, "Failed to register", http.StatusInternalServerError)
		return
	}
	created, err := h.users.Create(r.Context(), creds.Username, hash)
	if err != nil {
		log.Error().Err(err).Str("user", creds.Username).Msg("create user")
		http.Error(w, "Failed to register", http.StatusInternalServerError)
		return
	}
	if !created {
		telemetry.IncVec(telemetry.LoginsTotal, "register", "conflict")
		http.Error(w, "Username already exists", http.StatusConflict)
		return
	}

	log.Info().Str("user", creds.Username).Msg("user registered")
	telemetry.IncVec(telemetry.LoginsTotal, "register", "ok")
	h.issue(w, r, creds.Username)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	creds, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	hash, err := h.users.PasswordHash(r.Context(), creds.Username)
	if err != nil && !errors.Is(err, errUserNotFound) {
		log.Error().Err(err).Str("user", creds.Username).Msg("load user")
		http.Error(w, "Failed to log in", http.StatusInternalServerError)
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword(hash, []byte(creds.Password)) != nil {
		telemetry.IncVec(telemetry.LoginsTotal, "login", "rejected")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	telemetry.IncVec(telemetry.LoginsTotal, "login", "ok")
	h.issue(w, r, creds.Username)
}

// issue signs a new token for username and makes it the only active one.
func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, username string) {
	token, claims, err := h.signer.GenerateToken(username)
	if err != nil {
		log.Error().Err(err).Msg("generate token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	if err := h.tokens.Activate(r.Context(), claims); err != nil {
		log.Error().Err(err).Str("user", username).Msg("activate session")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, model.AuthResponse{Username: username, Token: token})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.tokens.Revoke(r.Context(), claims.Username); err != nil {
		log.Error().Err(err).Str("user", claims.Username).Msg("revoke session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	log.Info().Str("user", claims.Username).Msg("user logged out")
	w.WriteHeader(http.StatusOK)
}

// AuthMiddleware admits requests carrying the active bearer token of a user
// and puts its claims in the request context.
func AuthMiddleware(signer *auth.Signer, tokens tokenRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenString == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := signer.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			if err := tokens.Check(r.Context(), claims); err != nil {
				if errors.Is(err, auth.ErrRevoked) {
					http.Error(w, "Session expired", http.StatusUnauthorized)
					return
				}
				log.Error().Err(err).Msg("check session")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), auth.UserKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
