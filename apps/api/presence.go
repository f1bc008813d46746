package main

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

type onlineLister interface {
	Online(ctx context.Context) ([]string, error)
}

type PresenceHandler struct {
	presence onlineLister
}

func NewPresenceHandler(presence onlineLister) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.Online(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch presence")
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, users)
}
