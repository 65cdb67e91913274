package server

import (
	"context"
	"log/slog"

	"github.com/geopuzzle/api/internal/auth"
	"github.com/geopuzzle/api/internal/geopuzzle"
)

// SeedDemo creates a demo user and a small demo track on an empty database.
// Idempotent: does nothing once any track exists.
func SeedDemo(ctx context.Context, logger *slog.Logger, store Store, defaultThumbnail string) error {
	existing, err := store.ListTracks(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	hash, err := auth.HashPassword("demo-password")
	if err != nil {
		return err
	}
	demo, err := store.CreateUser(ctx, "demo", "Demo Player", hash)
	if err != nil {
		return err
	}

	track, err := store.CreateTrack(ctx, "Old Town Walk", demo.ID, defaultThumbnail)
	if err != nil {
		return err
	}

	waypoints := []geopuzzle.Waypoint{
		{
			Kind:    geopuzzle.WaypointText,
			Clue:    "The clock on this tower has no minute hand. What is the tower called?",
			Answers: []string{"old clock tower", "clock tower"},
		},
		{
			Kind:    geopuzzle.WaypointText,
			Clue:    "Stand where the two rivers meet.",
			Answers: []string{"confluence"},
			Geo:     &geopuzzle.GeoAnchor{Lat: 48.8585, Lng: 2.2945, RadiusM: 75},
		},
		{
			Kind:    geopuzzle.WaypointText,
			Clue:    "Count the lions guarding the bridge gate.",
			Answers: []string{"4", "four"},
		},
	}
	for _, wp := range waypoints {
		if _, err := store.AddWaypoint(ctx, track.ID, wp); err != nil {
			return err
		}
	}

	logger.Info("demo data seeded", "track", track.ID, "user", demo.ID)
	return nil
}
