package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

// TrackSource seeds a session with a read-only track snapshot at creation.
type TrackSource interface {
	GetTrack(ctx context.Context, trackID string) (geopuzzle.Track, error)
}

// ResultSink receives finalized scoreboard entries.
type ResultSink interface {
	Persist(ctx context.Context, entry geopuzzle.ScoreboardEntry) error
}

const persistAttempts = 3

// Registry is the process-wide room → session table. It guarantees at most
// one live session per track, dispatches commands, and reaps idle sessions
// on a fixed interval.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tracks TrackSource
	sink   ResultSink
	logger *slog.Logger

	idleTimeout  time.Duration
	reapInterval time.Duration
}

func NewRegistry(logger *slog.Logger, tracks TrackSource, sink ResultSink, idleTimeout, reapInterval time.Duration) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		tracks:       tracks,
		sink:         sink,
		logger:       logger,
		idleTimeout:  idleTimeout,
		reapInterval: reapInterval,
	}
}

// GetOrCreate returns the live session for the track, creating one if none
// exists. Concurrent creation for the same track serializes to a single
// winner; losers attach to the winner's session. The room ID is the track ID.
func (r *Registry) GetOrCreate(ctx context.Context, trackID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[trackID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	// Load the snapshot before taking the write lock: a slow track read must
	// never stall dispatch for other rooms. A concurrent creator may win the
	// race below, in which case this load is discarded.
	track, err := r.tracks.GetTrack(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("loading track %q: %w", trackID, err)
	}
	if err := track.ValidateSequence(); err != nil {
		return nil, fmt.Errorf("track snapshot rejected: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if s, ok := r.sessions[trackID]; ok {
		return s, nil
	}

	s = NewSession(trackID, track)
	r.sessions[trackID] = s
	r.logger.Info("session created", "room", trackID, "waypoints", len(track.Waypoints))
	return s, nil
}

// Get looks up a session without creating one.
func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Dispatch applies a command to the room's session. On the transition to
// Completed the results are persisted and the session is evicted; persistence
// failures never block eviction.
func (r *Registry) Dispatch(ctx context.Context, roomID string, cmd Command) (Delta, error) {
	s, ok := r.Get(roomID)
	if !ok {
		return Delta{}, ErrUnknownRoom
	}

	delta, err := s.Apply(cmd)
	if err != nil {
		return Delta{}, err
	}

	if delta.State == StateCompleted {
		r.persistResults(ctx, s)
		r.evict(roomID)
	}
	return delta, nil
}

// AbortTrack aborts the live session for a track, if any. Used when the
// track is deleted by its owner. Returns the abort delta for broadcast.
func (r *Registry) AbortTrack(trackID, reason string) (Delta, bool) {
	s, ok := r.Get(trackID)
	if !ok {
		return Delta{}, false
	}
	delta, err := s.Apply(Abort{Reason: reason})
	r.evict(trackID)
	if err != nil {
		return Delta{}, false
	}
	r.logger.Info("session aborted", "room", trackID, "reason", reason)
	return delta, true
}

// Run drives the reap loop until ctx is canceled. Meant to run in its own
// goroutine alongside the HTTP server; it never blocks dispatch.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

// reap removes sessions that have had zero connected players for longer than
// the idle timeout. Completed sessions get a best-effort persist first;
// anything else is aborted.
func (r *Registry) reap(ctx context.Context) {
	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-r.idleTimeout)
	for _, s := range candidates {
		if s.ConnectedCount() > 0 || s.LastActivity().After(cutoff) {
			continue
		}
		if s.State() == StateCompleted {
			r.persistResults(ctx, s)
		} else {
			_, _ = s.Apply(Abort{Reason: "idle timeout"})
		}
		r.evict(s.RoomID())
		r.logger.Info("session reaped",
			"room", s.RoomID(), "state", s.State(), "had_progress", s.HasProgress())
	}
}

// SessionCount reports how many sessions are live.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) evict(roomID string) {
	r.mu.Lock()
	delete(r.sessions, roomID)
	r.mu.Unlock()
}

// persistResults writes each entry to the sink with bounded backoff. On
// exhaustion the entry is logged and dropped so eviction can proceed.
func (r *Registry) persistResults(ctx context.Context, s *Session) {
	for _, entry := range s.Results() {
		if err := r.persistWithRetry(ctx, entry); err != nil {
			r.logger.Error("dropping scoreboard entry after retries",
				"room", s.RoomID(), "player", entry.PlayerID, "error", err)
		}
	}
}

func (r *Registry) persistWithRetry(ctx context.Context, entry geopuzzle.ScoreboardEntry) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = r.sink.Persist(ctx, entry); err == nil {
			return nil
		}
	}
	return err
}
