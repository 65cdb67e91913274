package server

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/geopuzzle/api/internal/auth"
)

type SignupRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func handleSignup(store Store, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignupRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Username = strings.TrimSpace(strings.ToLower(req.Username))
		req.DisplayName = strings.TrimSpace(req.DisplayName)
		if req.DisplayName == "" {
			req.DisplayName = req.Username
		}

		if n := utf8.RuneCountInString(req.Username); n < 3 || n > 32 {
			writeError(w, http.StatusBadRequest, "username must be 3-32 characters")
			return
		}
		if len(req.Password) < 8 {
			writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		u, err := store.CreateUser(r.Context(), req.Username, req.DisplayName, hash)
		if errors.Is(err, ErrConflict) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		token, err := tokens.Issue(auth.Identity{UserID: u.ID, DisplayName: u.DisplayName})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, AuthResponse{
			Token:       token,
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
		})
	}
}

func handleLogin(store Store, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Username = strings.TrimSpace(strings.ToLower(req.Username))

		// Unknown user and wrong password are indistinguishable to the caller.
		u, err := store.UserByUsername(r.Context(), req.Username)
		if errors.Is(err, ErrNotFound) || (err == nil && !auth.CheckPassword(u.PasswordHash, req.Password)) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		token, err := tokens.Issue(auth.Identity{UserID: u.ID, DisplayName: u.DisplayName})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, AuthResponse{
			Token:       token,
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
		})
	}
}
