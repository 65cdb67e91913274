package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geopuzzle/api/internal/game"
)

type HealthResponse struct {
	Checks   map[string]string `json:"checks"`
	Sessions int               `json:"sessions"`
}

// handleHealth pings the database and, when configured, Redis. Redis being
// down degrades the leaderboard only, so it reports but never fails the
// check.
func handleHealth(logger *slog.Logger, db *sql.DB, rdb *redis.Client, registry *game.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := HealthResponse{
			Checks:   map[string]string{"sqlite": "ok"},
			Sessions: registry.SessionCount(),
		}
		status := http.StatusOK

		if err := db.PingContext(ctx); err != nil {
			logger.Error("health check failed", "name", "sqlite", "error", err)
			resp.Checks["sqlite"] = "error"
			status = http.StatusServiceUnavailable
		}

		if rdb != nil {
			resp.Checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Error("health check failed", "name", "redis", "error", err)
				resp.Checks["redis"] = "degraded"
			}
		}

		writeJSON(w, status, resp)
	}
}
