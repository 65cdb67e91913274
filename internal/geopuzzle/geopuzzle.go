// Package geopuzzle defines the core domain types shared across the service.
// It has zero external dependencies — everything here is pure Go.
package geopuzzle

import (
	"fmt"
	"time"
)

// WaypointKind distinguishes the waypoint variants.
type WaypointKind string

const (
	WaypointText    WaypointKind = "text"
	WaypointGraphic WaypointKind = "graphic"
)

// GeoAnchor ties a waypoint to a coordinate with a tolerance radius in meters.
type GeoAnchor struct {
	Lat     float64
	Lng     float64
	RadiusM float64
}

// Waypoint is a single step in a track. Text waypoints carry a clue string,
// graphic waypoints an image URL. Either variant may accept one or more
// answer strings and may be geo-anchored.
type Waypoint struct {
	Index    int
	Kind     WaypointKind
	Clue     string
	ImageURL string
	Answers  []string
	Geo      *GeoAnchor
}

// Track is an ordered puzzle authored by a user. Waypoints are ordered by
// Index, zero-based and contiguous.
type Track struct {
	ID           string
	Title        string
	OwnerID      string
	ThumbnailURL string
	Waypoints    []Waypoint
	CreatedAt    time.Time
}

// ValidateSequence checks that waypoint indices are zero-based, contiguous
// and sorted. A track failing this check must never reach a live session.
func (t Track) ValidateSequence() error {
	for i, wp := range t.Waypoints {
		if wp.Index != i {
			return fmt.Errorf("track %s: waypoint at position %d has index %d", t.ID, i, wp.Index)
		}
	}
	return nil
}

type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// ScoreboardEntry is the finalized result of one player's session attempt.
// Immutable once persisted.
type ScoreboardEntry struct {
	ID                   string
	TrackID              string
	PlayerID             string
	FinalScore           int
	CompletionDurationMs int64
	CompletedAt          time.Time
}
