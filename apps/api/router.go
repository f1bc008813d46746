package main

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mahaj/whisper/pkg/auth"
	"github.com/mahaj/whisper/pkg/telemetry"
)

type routerDeps struct {
	auth     *AuthHandler
	history  *HistoryHandler
	presence *PresenceHandler
	signer   *auth.Signer
	tokens   tokenRegistry
	origins  []string
}

func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// timed records the duration of every request under its route pattern.
func timed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if telemetry.RequestDuration == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		telemetry.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(d.origins))
	r.Use(timed)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", d.auth.Login)
		r.Post("/auth/register", d.auth.Register)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.signer, d.tokens))
			r.Post("/auth/logout", d.auth.Logout)
			r.Get("/messages/recent", d.history.Recent)
			r.Get("/messages/before/{id}", d.history.Before)
			r.Method(http.MethodGet, "/users/online", d.presence)
		})
	})
	return r
}
