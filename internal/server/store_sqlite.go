package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

// sqlStore is the SQLite-backed Store. It also serves as the registry's
// TrackSource via GetTrack.
type sqlStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) CreateUser(ctx context.Context, username, displayName, passwordHash string) (geopuzzle.User, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE username = ?`, username,
	).Scan(&exists)
	if err == nil {
		return geopuzzle.User{}, fmt.Errorf("username %q: %w", username, ErrConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return geopuzzle.User{}, err
	}

	u := geopuzzle.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.DisplayName, u.PasswordHash, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return geopuzzle.User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *sqlStore) UserByUsername(ctx context.Context, username string) (geopuzzle.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, password_hash, created_at
		FROM users WHERE username = ?
	`, username))
}

func (s *sqlStore) UserByID(ctx context.Context, id string) (geopuzzle.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

func (s *sqlStore) scanUser(row *sql.Row) (geopuzzle.User, error) {
	var u geopuzzle.User
	var created string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return geopuzzle.User{}, ErrNotFound
	}
	if err != nil {
		return geopuzzle.User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, nil
}

func (s *sqlStore) ListTracks(ctx context.Context) ([]geopuzzle.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, owner_id, thumbnail_url, created_at
		FROM tracks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []geopuzzle.Track
	for rows.Next() {
		var t geopuzzle.Track
		var created string
		if err := rows.Scan(&t.ID, &t.Title, &t.OwnerID, &t.ThumbnailURL, &created); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (s *sqlStore) GetTrack(ctx context.Context, id string) (geopuzzle.Track, error) {
	var t geopuzzle.Track
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, thumbnail_url, created_at
		FROM tracks WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &t.OwnerID, &t.ThumbnailURL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return geopuzzle.Track{}, ErrNotFound
	}
	if err != nil {
		return geopuzzle.Track{}, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, clue, image_url, answers, lat, lng, radius_m
		FROM waypoints WHERE track_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return geopuzzle.Track{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var wp geopuzzle.Waypoint
		var answersJSON string
		var lat, lng, radius sql.NullFloat64
		if err := rows.Scan(&wp.Index, &wp.Kind, &wp.Clue, &wp.ImageURL, &answersJSON, &lat, &lng, &radius); err != nil {
			return geopuzzle.Track{}, err
		}
		if err := json.Unmarshal([]byte(answersJSON), &wp.Answers); err != nil {
			return geopuzzle.Track{}, fmt.Errorf("decoding answers for waypoint %d: %w", wp.Index, err)
		}
		if lat.Valid && lng.Valid && radius.Valid {
			wp.Geo = &geopuzzle.GeoAnchor{Lat: lat.Float64, Lng: lng.Float64, RadiusM: radius.Float64}
		}
		t.Waypoints = append(t.Waypoints, wp)
	}
	return t, rows.Err()
}

func (s *sqlStore) CreateTrack(ctx context.Context, title, ownerID, thumbnailURL string) (geopuzzle.Track, error) {
	t := geopuzzle.Track{
		ID:           uuid.NewString(),
		Title:        title,
		OwnerID:      ownerID,
		ThumbnailURL: thumbnailURL,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, title, owner_id, thumbnail_url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.OwnerID, t.ThumbnailURL, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return geopuzzle.Track{}, fmt.Errorf("inserting track: %w", err)
	}
	return t, nil
}

func (s *sqlStore) RenameTrack(ctx context.Context, id, title string) error {
	return s.execOne(ctx, `UPDATE tracks SET title = ? WHERE id = ?`, title, id)
}

func (s *sqlStore) SetTrackThumbnail(ctx context.Context, id, url string) error {
	return s.execOne(ctx, `UPDATE tracks SET thumbnail_url = ? WHERE id = ?`, url, id)
}

func (s *sqlStore) DeleteTrack(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM tracks WHERE id = ?`, id)
}

func (s *sqlStore) AddWaypoint(ctx context.Context, trackID string, wp geopuzzle.Waypoint) (geopuzzle.Waypoint, error) {
	answersJSON, err := json.Marshal(wp.Answers)
	if err != nil {
		return geopuzzle.Waypoint{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return geopuzzle.Waypoint{}, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM tracks WHERE id = ?`, trackID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return geopuzzle.Waypoint{}, ErrNotFound
	}
	if err != nil {
		return geopuzzle.Waypoint{}, err
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM waypoints WHERE track_id = ?`, trackID,
	).Scan(&wp.Index); err != nil {
		return geopuzzle.Waypoint{}, err
	}

	var lat, lng, radius any
	if wp.Geo != nil {
		lat, lng, radius = wp.Geo.Lat, wp.Geo.Lng, wp.Geo.RadiusM
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO waypoints (track_id, seq, kind, clue, image_url, answers, lat, lng, radius_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trackID, wp.Index, wp.Kind, wp.Clue, wp.ImageURL, string(answersJSON), lat, lng, radius)
	if err != nil {
		return geopuzzle.Waypoint{}, fmt.Errorf("inserting waypoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return geopuzzle.Waypoint{}, err
	}
	return wp, nil
}

func (s *sqlStore) DeleteWaypoint(ctx context.Context, trackID string, index int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM waypoints WHERE track_id = ? AND seq = ?`, trackID, index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	// Close the gap. The sign flip keeps (track_id, seq) unique while rows
	// shift down one by one.
	if _, err := tx.ExecContext(ctx,
		`UPDATE waypoints SET seq = -(seq - 1) WHERE track_id = ? AND seq > ?`, trackID, index); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE waypoints SET seq = -seq WHERE track_id = ? AND seq < 0`, trackID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqlStore) InsertScore(ctx context.Context, entry geopuzzle.ScoreboardEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scoreboard (id, track_id, player_id, final_score, completion_duration_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.TrackID, entry.PlayerID, entry.FinalScore,
		entry.CompletionDurationMs, entry.CompletedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting scoreboard entry: %w", err)
	}
	return nil
}

func (s *sqlStore) ListScores(ctx context.Context, trackID string, limit int) ([]geopuzzle.ScoreboardEntry, error) {
	query := `
		SELECT id, track_id, player_id, final_score, completion_duration_ms, completed_at
		FROM scoreboard`
	args := []any{}
	if trackID != "" {
		query += ` WHERE track_id = ?`
		args = append(args, trackID)
	}
	query += ` ORDER BY final_score DESC, completion_duration_ms ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []geopuzzle.ScoreboardEntry
	for rows.Next() {
		e, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqlStore) GetScore(ctx context.Context, id string) (geopuzzle.ScoreboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_id, player_id, final_score, completion_duration_ms, completed_at
		FROM scoreboard WHERE id = ?
	`, id)
	if err != nil {
		return geopuzzle.ScoreboardEntry{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return geopuzzle.ScoreboardEntry{}, err
		}
		return geopuzzle.ScoreboardEntry{}, ErrNotFound
	}
	return scanScore(rows)
}

func (s *sqlStore) DeleteScore(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM scoreboard WHERE id = ?`, id)
}

func scanScore(rows *sql.Rows) (geopuzzle.ScoreboardEntry, error) {
	var e geopuzzle.ScoreboardEntry
	var completed string
	if err := rows.Scan(&e.ID, &e.TrackID, &e.PlayerID, &e.FinalScore, &e.CompletionDurationMs, &completed); err != nil {
		return geopuzzle.ScoreboardEntry{}, err
	}
	e.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
	return e, nil
}

// execOne runs a statement that must affect exactly one row, translating
// zero rows into ErrNotFound.
func (s *sqlStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
