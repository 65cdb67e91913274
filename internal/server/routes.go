package server

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, d Deps) {
	requireAuth := authMiddleware(d.Tokens)

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("GeoPuzzle API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(d.Logger, d.DB, d.Redis, d.Registry))
	r.Get("/ws/game", handleGame(d.Logger, d.Tokens, d.Registry, d.Hub, d.SendTimeout))

	r.Post("/api/auth/signup", handleSignup(d.Store, d.Tokens))
	r.Post("/api/auth/login", handleLogin(d.Store, d.Tokens))

	r.Get("/api/users/{userID}", handleGetUser(d.Store))

	r.Route("/api/tracks", func(r chi.Router) {
		r.Get("/", handleListTracks(d.Store))
		r.Get("/{trackID}", handleGetTrack(d.Store))

		// Authoring requires a logged-in user; mutations are owner only.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", handleCreateTrack(d.Store, d.DefaultThumbnail))
			r.Patch("/{trackID}", handleRenameTrack(d.Store))
			r.Delete("/{trackID}", handleDeleteTrack(d.Store, d.Registry, d.Hub))
			r.Post("/{trackID}/waypoints", handleAddWaypoint(d.Store, d.Objects))
			r.Delete("/{trackID}/waypoints/{index}", handleDeleteWaypoint(d.Store))
			r.Put("/{trackID}/thumbnail", handleSetThumbnail(d.Store, d.Objects))
			r.Delete("/{trackID}/thumbnail", handleClearThumbnail(d.Store, d.DefaultThumbnail))
		})
	})

	r.Route("/api/scoreboard", func(r chi.Router) {
		r.Get("/", handleListScores(d.Store))
		r.Get("/top/{trackID}", handleTopScores(d.Board))
		r.With(requireAuth).Delete("/{scoreID}", handleDeleteScore(d.Store, d.Board))
	})

	// Local image uploads; S3-backed deployments serve images from the CDN
	// instead.
	if d.UploadDir != "" {
		if info, err := os.Stat(d.UploadDir); err == nil && info.IsDir() {
			fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir)))
			r.Get("/uploads/*", fs.ServeHTTP)
		}
	}
}
