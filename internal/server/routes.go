package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fenggwsx/PostBoard/internal/protocol"
)

const maxHistoryQuery = 500

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Get("/ws", a.handleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/posts", a.handleListPosts)
		r.Post("/signup", a.handleSignup)
		r.Post("/login", a.handleLogin)
		r.With(a.requireToken).Get("/me", a.handleMe)
	})
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": a.registry.Count(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListPosts serves the same recent window a new session receives.
func (a *App) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryQuery)
	}

	posts, err := a.store.RecentPosts(r.Context(), limit)
	if err != nil {
		log.Printf("list posts limit=%d err=%v", limit, err)
		writeError(w, http.StatusInternalServerError, "posts unavailable")
		return
	}

	frames := make([]protocol.PostFrame, 0, len(posts))
	for _, post := range posts {
		frames = append(frames, protocol.FromPost(post))
	}
	writeJSON(w, http.StatusOK, frames)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
