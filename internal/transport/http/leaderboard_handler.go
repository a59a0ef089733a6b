package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/domain"
)

const defaultLeaderboardLimit = 100

// LeaderboardHandler exposes the read-only day-score surface.
type LeaderboardHandler struct {
	service *app.RoomService
}

func NewLeaderboardHandler(service *app.RoomService) *LeaderboardHandler {
	return &LeaderboardHandler{service: service}
}

// Register mounts the leaderboard routes on mux.
func (h *LeaderboardHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/leaderboard", h.serveLeaderboard)
	mux.HandleFunc("/api/users/", h.serveUserScore)
}

func (h *LeaderboardHandler) serveLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.service.DayLeaderboard(r.Context(), limit)
	if err != nil {
		http.Error(w, "leaderboard unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, entries)
}

// serveUserScore handles GET /api/users/{id}/score.
func (h *LeaderboardHandler) serveUserScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	identity, ok := strings.CutSuffix(rest, "/score")
	if !ok || identity == "" || strings.Contains(identity, "/") {
		http.NotFound(w, r)
		return
	}

	score, err := h.service.DayScore(r.Context(), identity)
	if err != nil {
		http.Error(w, "score unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"identity": identity, "score": score})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
