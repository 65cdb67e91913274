package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// UserResponse is the public view of a user. The password hash never leaves
// the store.
type UserResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

func handleGetUser(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := store.UserByID(r.Context(), chi.URLParam(r, "userID"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, UserResponse{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			CreatedAt:   u.CreatedAt,
		})
	}
}
