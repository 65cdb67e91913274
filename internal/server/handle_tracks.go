package server

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/geopuzzle/api/internal/game"
	"github.com/geopuzzle/api/internal/geopuzzle"
)

type TrackSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerID      string    `json:"ownerId"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	CreatedAt    time.Time `json:"createdAt"`
}

// WaypointView is the player-facing waypoint shape. Answers and the exact
// geo anchor stay server-side; leaking either would solve the puzzle.
type WaypointView struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Clue      string `json:"clue,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	GeoBound  bool   `json:"geoBound"`
	TextBound bool   `json:"textBound"`
}

type TrackDetail struct {
	TrackSummary
	Waypoints []WaypointView `json:"waypoints"`
}

type CreateTrackRequest struct {
	Title string `json:"title"`
}

type RenameTrackRequest struct {
	Title string `json:"title"`
}

func trackSummary(t geopuzzle.Track) TrackSummary {
	return TrackSummary{
		ID:           t.ID,
		Title:        t.Title,
		OwnerID:      t.OwnerID,
		ThumbnailURL: t.ThumbnailURL,
		CreatedAt:    t.CreatedAt,
	}
}

func trackDetail(t geopuzzle.Track) TrackDetail {
	d := TrackDetail{TrackSummary: trackSummary(t), Waypoints: []WaypointView{}}
	for _, wp := range t.Waypoints {
		d.Waypoints = append(d.Waypoints, WaypointView{
			Index:     wp.Index,
			Kind:      string(wp.Kind),
			Clue:      wp.Clue,
			ImageURL:  wp.ImageURL,
			GeoBound:  wp.Geo != nil,
			TextBound: len(wp.Answers) > 0,
		})
	}
	return d
}

func handleListTracks(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracks, err := store.ListTracks(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		out := make([]TrackSummary, 0, len(tracks))
		for _, t := range tracks {
			out = append(out, trackSummary(t))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetTrack(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.GetTrack(r.Context(), chi.URLParam(r, "trackID"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "track not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, trackDetail(t))
	}
}

func handleCreateTrack(store Store, defaultThumbnail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTrackRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" || utf8.RuneCountInString(req.Title) > 120 {
			writeError(w, http.StatusBadRequest, "title must be 1-120 characters")
			return
		}

		id := identityFrom(r)
		t, err := store.CreateTrack(r.Context(), req.Title, id.UserID, defaultThumbnail)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, trackSummary(t))
	}
}

func handleRenameTrack(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := requireTrackOwner(w, r, store)
		if !ok {
			return
		}

		var req RenameTrackRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" || utf8.RuneCountInString(req.Title) > 120 {
			writeError(w, http.StatusBadRequest, "title must be 1-120 characters")
			return
		}

		if err := store.RenameTrack(r.Context(), t.ID, req.Title); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		t.Title = req.Title
		writeJSON(w, http.StatusOK, trackSummary(t))
	}
}

// handleDeleteTrack removes a track. A live session on the track is aborted
// and the abort is broadcast before the rows go away.
func handleDeleteTrack(store Store, registry *game.Registry, hub *game.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := requireTrackOwner(w, r, store)
		if !ok {
			return
		}

		if delta, aborted := registry.AbortTrack(t.ID, "track deleted"); aborted {
			hub.Publish(r.Context(), t.ID, delta)
		}

		if err := store.DeleteTrack(r.Context(), t.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireTrackOwner loads the track and checks the caller owns it. Writes
// the error response itself when the check fails.
func requireTrackOwner(w http.ResponseWriter, r *http.Request, store Store) (geopuzzle.Track, bool) {
	t, err := store.GetTrack(r.Context(), chi.URLParam(r, "trackID"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "track not found")
		return geopuzzle.Track{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return geopuzzle.Track{}, false
	}
	if t.OwnerID != identityFrom(r).UserID {
		writeError(w, http.StatusForbidden, "not the track owner")
		return geopuzzle.Track{}, false
	}
	return t, true
}
