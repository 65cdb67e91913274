package server

import (
	"context"
	"errors"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Store is the durable data layer: users, tracks with their waypoints, and
// finalized scoreboard entries. Implementations translate driver errors into
// ErrNotFound/ErrConflict.
type Store interface {
	CreateUser(ctx context.Context, username, displayName, passwordHash string) (geopuzzle.User, error)
	UserByUsername(ctx context.Context, username string) (geopuzzle.User, error)
	UserByID(ctx context.Context, id string) (geopuzzle.User, error)

	ListTracks(ctx context.Context) ([]geopuzzle.Track, error)
	GetTrack(ctx context.Context, id string) (geopuzzle.Track, error)
	CreateTrack(ctx context.Context, title, ownerID, thumbnailURL string) (geopuzzle.Track, error)
	RenameTrack(ctx context.Context, id, title string) error
	SetTrackThumbnail(ctx context.Context, id, url string) error
	DeleteTrack(ctx context.Context, id string) error

	// AddWaypoint appends the waypoint at the next free sequence index and
	// returns it with the index filled in.
	AddWaypoint(ctx context.Context, trackID string, wp geopuzzle.Waypoint) (geopuzzle.Waypoint, error)
	// DeleteWaypoint removes one waypoint and closes the gap so indices stay
	// zero-based and contiguous.
	DeleteWaypoint(ctx context.Context, trackID string, index int) error

	InsertScore(ctx context.Context, entry geopuzzle.ScoreboardEntry) error
	ListScores(ctx context.Context, trackID string, limit int) ([]geopuzzle.ScoreboardEntry, error)
	GetScore(ctx context.Context, id string) (geopuzzle.ScoreboardEntry, error)
	DeleteScore(ctx context.Context, id string) error
}
