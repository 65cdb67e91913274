package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/geopuzzle/api/internal/geopuzzle"
	"github.com/geopuzzle/api/internal/leaderboard"
)

const (
	defaultScoreLimit = 50
	maxScoreLimit     = 200
)

type ScoreboardEntryResponse struct {
	ID                   string    `json:"id"`
	TrackID              string    `json:"trackId"`
	PlayerID             string    `json:"playerId"`
	FinalScore           int       `json:"finalScore"`
	CompletionDurationMs int64     `json:"completionDurationMs"`
	CompletedAt          time.Time `json:"completedAt"`
}

func scoreResponse(e geopuzzle.ScoreboardEntry) ScoreboardEntryResponse {
	return ScoreboardEntryResponse{
		ID:                   e.ID,
		TrackID:              e.TrackID,
		PlayerID:             e.PlayerID,
		FinalScore:           e.FinalScore,
		CompletionDurationMs: e.CompletionDurationMs,
		CompletedAt:          e.CompletedAt,
	}
}

// handleListScores returns durable scoreboard entries, optionally filtered
// by track. Best score first, faster completion breaking ties.
func handleListScores(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultScoreLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxScoreLimit {
				writeError(w, http.StatusBadRequest, "limit must be 1-200")
				return
			}
			limit = n
		}

		entries, err := store.ListScores(r.Context(), r.URL.Query().Get("trackId"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		out := make([]ScoreboardEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, scoreResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleTopScores serves the live Redis ranking for a track. Returns 503
// when no leaderboard is configured; the durable scoreboard still works.
func handleTopScores(board *leaderboard.Leaderboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if board == nil {
			writeError(w, http.StatusServiceUnavailable, "leaderboard not configured")
			return
		}

		n := 10
		if raw := r.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > maxScoreLimit {
				writeError(w, http.StatusBadRequest, "n must be 1-200")
				return
			}
			n = parsed
		}

		entries, err := board.Top(r.Context(), chi.URLParam(r, "trackID"), n)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "leaderboard unavailable")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleDeleteScore removes an entry. Only the player who earned it or the
// owner of the track may delete it. The Redis ranking is trimmed best
// effort; it rebuilds from future results either way.
func handleDeleteScore(store Store, board *leaderboard.Leaderboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := store.GetScore(r.Context(), chi.URLParam(r, "scoreID"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "scoreboard entry not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		caller := identityFrom(r)
		if entry.PlayerID != caller.UserID {
			track, err := store.GetTrack(r.Context(), entry.TrackID)
			if err != nil || track.OwnerID != caller.UserID {
				writeError(w, http.StatusForbidden, "not allowed to delete this entry")
				return
			}
		}

		if err := store.DeleteScore(r.Context(), entry.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if board != nil {
			_ = board.Remove(r.Context(), entry.TrackID, entry.PlayerID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
