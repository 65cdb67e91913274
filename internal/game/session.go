// Package game implements the real-time session coordinator: per-room game
// sessions, answer scoring, the process-wide session registry and the
// broadcast hub. Transport and persistence live elsewhere; this package only
// deals in commands in and deltas out.
package game

import (
	"errors"
	"sync"
	"time"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

var (
	ErrInvalidState    = errors.New("command not valid in current session state")
	ErrUnknownWaypoint = errors.New("unknown waypoint")
	ErrUnknownRoom     = errors.New("unknown room")
)

// State is the session lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool { return s == StateCompleted || s == StateAborted }

// Command is a tagged variant applied to a session. One command mutates one
// session at a time; the session serializes application internally.
type Command interface{ isCommand() }

type Join struct {
	PlayerID    string
	DisplayName string
}

type Submit struct {
	PlayerID      string
	WaypointIndex int
	Answer        AnswerPayload
	ClientTime    time.Time
}

type Leave struct {
	PlayerID string
}

type Abort struct {
	Reason string
}

func (Join) isCommand()   {}
func (Submit) isCommand() {}
func (Leave) isCommand()  {}
func (Abort) isCommand()  {}

// Delta describes what a transition changed. It is broadcast verbatim as the
// outbound state frame for the room.
type Delta struct {
	Type                 string         `json:"type"`
	RoomID               string         `json:"roomId"`
	State                State          `json:"state"`
	CurrentWaypointIndex int            `json:"currentWaypointIndex"`
	Scores               map[string]int `json:"scores"`
	PlayerID             string         `json:"playerId,omitempty"`
	WaypointIndex        int            `json:"waypointIndex"`
	Correct              bool           `json:"correct"`
	Reason               string         `json:"reason,omitempty"`
}

// Delta types.
const (
	DeltaJoined    = "player_joined"
	DeltaLeft      = "player_left"
	DeltaAnswer    = "answer_result"
	DeltaCompleted = "session_completed"
	DeltaAborted   = "session_aborted"
)

type playerProgress struct {
	displayName string
	score       int
	answered    map[int]struct{}
	misses      map[int]int
	lastActive  time.Time
}

// Session is one live attempt at solving a track. All mutation goes through
// Apply, which holds the session mutex, so commands for the same room are
// linearized while different rooms proceed in parallel.
type Session struct {
	mu sync.Mutex

	roomID string
	track  geopuzzle.Track

	state        State
	current      int
	players      map[string]*playerProgress
	connected    map[string]struct{}
	createdAt    time.Time
	completedAt  time.Time
	lastActivity time.Time
}

func NewSession(roomID string, track geopuzzle.Track) *Session {
	now := time.Now().UTC()
	return &Session{
		roomID:       roomID,
		track:        track,
		state:        StateWaiting,
		players:      make(map[string]*playerProgress),
		connected:    make(map[string]struct{}),
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Apply runs one command through the state machine and returns the resulting
// delta. A failed transition mutates nothing.
func (s *Session) Apply(cmd Command) (Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c := cmd.(type) {
	case Join:
		return s.join(c)
	case Submit:
		return s.submit(c)
	case Leave:
		return s.leave(c)
	case Abort:
		return s.abort(c)
	default:
		return Delta{}, ErrInvalidState
	}
}

func (s *Session) join(c Join) (Delta, error) {
	if s.state.Terminal() {
		return Delta{}, ErrInvalidState
	}

	if _, ok := s.players[c.PlayerID]; !ok {
		s.players[c.PlayerID] = &playerProgress{
			displayName: c.DisplayName,
			answered:    make(map[int]struct{}),
			misses:      make(map[int]int),
		}
	}
	s.connected[c.PlayerID] = struct{}{}
	s.touch(c.PlayerID)

	if s.state == StateWaiting {
		s.state = StateActive
	}
	return s.delta(DeltaJoined, c.PlayerID), nil
}

func (s *Session) submit(c Submit) (Delta, error) {
	if s.state != StateActive {
		return Delta{}, ErrInvalidState
	}
	p, ok := s.players[c.PlayerID]
	if !ok {
		return Delta{}, ErrInvalidState
	}
	if c.WaypointIndex < 0 || c.WaypointIndex >= len(s.track.Waypoints) {
		return Delta{}, ErrUnknownWaypoint
	}
	s.touch(c.PlayerID)

	// Duplicate correct answers are idempotent: no score change, no error.
	if _, done := p.answered[c.WaypointIndex]; done {
		d := s.delta(DeltaAnswer, c.PlayerID)
		d.WaypointIndex = c.WaypointIndex
		d.Correct = true
		return d, nil
	}

	ev := Evaluate(s.track.Waypoints[c.WaypointIndex], c.Answer, p.misses[c.WaypointIndex])
	if !ev.Correct {
		p.misses[c.WaypointIndex]++
		d := s.delta(DeltaAnswer, c.PlayerID)
		d.WaypointIndex = c.WaypointIndex
		return d, nil
	}

	p.answered[c.WaypointIndex] = struct{}{}
	p.score += ev.Points

	// The shared index advances past every waypoint someone has solved, so
	// answers landing out of order still count once the gap closes.
	for s.current < len(s.track.Waypoints) && s.solved(s.current) {
		s.current++
	}

	if s.current >= len(s.track.Waypoints) {
		s.state = StateCompleted
		s.completedAt = time.Now().UTC()
		d := s.delta(DeltaCompleted, c.PlayerID)
		d.WaypointIndex = c.WaypointIndex
		d.Correct = true
		return d, nil
	}

	d := s.delta(DeltaAnswer, c.PlayerID)
	d.WaypointIndex = c.WaypointIndex
	d.Correct = true
	return d, nil
}

func (s *Session) leave(c Leave) (Delta, error) {
	// Leaving never transitions state and keeps progress; only the
	// connected set shrinks.
	delete(s.connected, c.PlayerID)
	s.lastActivity = time.Now().UTC()
	return s.delta(DeltaLeft, c.PlayerID), nil
}

func (s *Session) abort(c Abort) (Delta, error) {
	if s.state.Terminal() {
		return Delta{}, ErrInvalidState
	}
	s.state = StateAborted
	d := s.delta(DeltaAborted, "")
	d.Reason = c.Reason
	return d, nil
}

// solved reports whether any player has answered the waypoint. Caller holds
// the session mutex.
func (s *Session) solved(index int) bool {
	for _, p := range s.players {
		if _, ok := p.answered[index]; ok {
			return true
		}
	}
	return false
}

func (s *Session) touch(playerID string) {
	now := time.Now().UTC()
	s.lastActivity = now
	if p, ok := s.players[playerID]; ok {
		p.lastActive = now
	}
}

// delta snapshots the shared view under the held lock.
func (s *Session) delta(typ, playerID string) Delta {
	scores := make(map[string]int, len(s.players))
	for id, p := range s.players {
		scores[id] = p.score
	}
	return Delta{
		Type:                 typ,
		RoomID:               s.roomID,
		State:                s.state,
		CurrentWaypointIndex: s.current,
		Scores:               scores,
		PlayerID:             playerID,
	}
}

// HasProgress reports whether any player has scored or answered anything.
func (s *Session) HasProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.players {
		if p.score > 0 || len(p.answered) > 0 {
			return true
		}
	}
	return false
}

// Results builds one scoreboard entry per player that took part, for
// persistence after completion. Empty unless the session completed.
func (s *Session) Results() []geopuzzle.ScoreboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCompleted {
		return nil
	}
	duration := s.completedAt.Sub(s.createdAt).Milliseconds()
	entries := make([]geopuzzle.ScoreboardEntry, 0, len(s.players))
	for id, p := range s.players {
		if len(p.answered) == 0 {
			continue
		}
		entries = append(entries, geopuzzle.ScoreboardEntry{
			TrackID:              s.track.ID,
			PlayerID:             id,
			FinalScore:           p.score,
			CompletionDurationMs: duration,
			CompletedAt:          s.completedAt,
		})
	}
	return entries
}
