package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/whisper/pkg/model"
	"github.com/mahaj/whisper/pkg/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type messageReader interface {
	Recent(ctx context.Context, limit int) ([]model.Message, error)
	Before(ctx context.Context, id int64, limit int) ([]model.Message, error)
}

type HistoryHandler struct {
	messages messageReader
}

func NewHistoryHandler(messages messageReader) *HistoryHandler {
	return &HistoryHandler{messages: messages}
}

// pageSize reads ?limit=; values outside 1..100 fall back to the default.
func pageSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > maxPageSize {
		return defaultPageSize
	}
	return n
}

func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	telemetry.IncVec(telemetry.HistoryRequests, "recent")
	messages, err := h.messages.Recent(r.Context(), pageSize(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch recent messages")
		http.Error(w, "Failed to fetch messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, messages)
}

func (h *HistoryHandler) Before(w http.ResponseWriter, r *http.Request) {
	telemetry.IncVec(telemetry.HistoryRequests, "before")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	messages, err := h.messages.Before(r.Context(), id, pageSize(r))
	if err != nil {
		log.Error().Err(err).Int64("before", id).Msg("failed to fetch messages")
		http.Error(w, "Failed to fetch messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, messages)
}
