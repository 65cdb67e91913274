package game

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

func twoCityTrack() geopuzzle.Track {
	return geopuzzle.Track{
		ID:    "track-1",
		Title: "Capitals",
		Waypoints: []geopuzzle.Waypoint{
			{Index: 0, Kind: geopuzzle.WaypointText, Clue: "City of light", Answers: []string{"paris"}},
			{Index: 1, Kind: geopuzzle.WaypointText, Clue: "Eternal city", Answers: []string{"rome"}},
		},
	}
}

func TestSessionSoloRun(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())

	if s.State() != StateWaiting {
		t.Fatalf("new session state = %v, want waiting", s.State())
	}

	d, err := s.Apply(Join{PlayerID: "p1", DisplayName: "Ana"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if d.State != StateActive {
		t.Errorf("state after first join = %v, want active", d.State)
	}

	d, err = s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "Paris"}})
	if err != nil {
		t.Fatalf("submit 0: %v", err)
	}
	if !d.Correct || d.Scores["p1"] != 10 || d.CurrentWaypointIndex != 1 {
		t.Errorf("after waypoint 0: correct=%v score=%d index=%d, want true/10/1",
			d.Correct, d.Scores["p1"], d.CurrentWaypointIndex)
	}

	d, err = s.Apply(Submit{PlayerID: "p1", WaypointIndex: 1, Answer: AnswerPayload{Text: "rome"}})
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if d.State != StateCompleted || d.Scores["p1"] != 20 {
		t.Errorf("after waypoint 1: state=%v score=%d, want completed/20", d.State, d.Scores["p1"])
	}

	results := s.Results()
	if len(results) != 1 {
		t.Fatalf("results len = %d, want 1", len(results))
	}
	if results[0].FinalScore != 20 || results[0].TrackID != "track-1" || results[0].PlayerID != "p1" {
		t.Errorf("unexpected result entry: %+v", results[0])
	}
}

func TestSessionUnknownWaypoint(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})

	before, _ := s.Apply(Leave{PlayerID: "ghost"}) // cheap state snapshot
	_, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 5, Answer: AnswerPayload{Text: "x"}})
	if !errors.Is(err, ErrUnknownWaypoint) {
		t.Fatalf("err = %v, want ErrUnknownWaypoint", err)
	}
	after, _ := s.Apply(Leave{PlayerID: "ghost"})
	if after.CurrentWaypointIndex != before.CurrentWaypointIndex || after.State != before.State {
		t.Error("failed submit mutated session state")
	}
}

func TestSessionSubmitBeforeJoinRejected(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	_, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestSessionDuplicateCorrectIsIdempotent(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})

	first, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})
	if err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if !second.Correct {
		t.Error("duplicate correct answer should still read as correct")
	}
	if second.Scores["p1"] != first.Scores["p1"] {
		t.Errorf("duplicate changed score: %d -> %d", first.Scores["p1"], second.Scores["p1"])
	}
}

func TestSessionCompletedIsImmutable(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})
	s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})
	s.Apply(Submit{PlayerID: "p1", WaypointIndex: 1, Answer: AnswerPayload{Text: "rome"}})

	if s.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", s.State())
	}
	if _, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("submit after completion: err = %v, want ErrInvalidState", err)
	}
	if _, err := s.Apply(Join{PlayerID: "p2"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("join after completion: err = %v, want ErrInvalidState", err)
	}
	if _, err := s.Apply(Abort{Reason: "late"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("abort after completion: err = %v, want ErrInvalidState", err)
	}
}

func TestSessionScoreAndIndexMonotonic(t *testing.T) {
	track := geopuzzle.Track{
		ID: "t",
		Waypoints: []geopuzzle.Waypoint{
			{Index: 0, Answers: []string{"a"}},
			{Index: 1, Answers: []string{"b"}},
			{Index: 2, Answers: []string{"c"}},
		},
	}
	s := NewSession("t", track)
	s.Apply(Join{PlayerID: "p1"})

	submissions := []Submit{
		{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "wrong"}},
		{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "a"}},
		{PlayerID: "p1", WaypointIndex: 2, Answer: AnswerPayload{Text: "c"}}, // out of order, index must not jump
		{PlayerID: "p1", WaypointIndex: 1, Answer: AnswerPayload{Text: "wrong"}},
		{PlayerID: "p1", WaypointIndex: 1, Answer: AnswerPayload{Text: "b"}},
	}

	lastIndex, lastScore := 0, 0
	for i, sub := range submissions {
		d, err := s.Apply(sub)
		if err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
		if d.CurrentWaypointIndex < lastIndex {
			t.Errorf("submission %d: index decreased %d -> %d", i, lastIndex, d.CurrentWaypointIndex)
		}
		if d.Scores["p1"] < lastScore {
			t.Errorf("submission %d: score decreased %d -> %d", i, lastScore, d.Scores["p1"])
		}
		lastIndex, lastScore = d.CurrentWaypointIndex, d.Scores["p1"]
	}

	if s.State() != StateCompleted {
		t.Errorf("state = %v, want completed after all waypoints answered", s.State())
	}
}

func TestSessionCompletesOutOfOrder(t *testing.T) {
	track := geopuzzle.Track{
		ID: "t",
		Waypoints: []geopuzzle.Waypoint{
			{Index: 0, Answers: []string{"a"}},
			{Index: 1, Answers: []string{"b"}},
			{Index: 2, Answers: []string{"c"}},
		},
	}
	s := NewSession("t", track)
	s.Apply(Join{PlayerID: "p1"})

	s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "a"}})
	d, _ := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 2, Answer: AnswerPayload{Text: "c"}})
	if d.CurrentWaypointIndex != 1 {
		t.Fatalf("index = %d after skipping ahead, want 1", d.CurrentWaypointIndex)
	}

	// Closing the gap at 1 must sweep the index past the already-solved 2
	// and complete the session.
	d, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 1, Answer: AnswerPayload{Text: "b"}})
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if d.State != StateCompleted {
		t.Errorf("state = %v, want completed after all waypoints answered", d.State)
	}
	if d.CurrentWaypointIndex != 3 {
		t.Errorf("index = %d, want 3", d.CurrentWaypointIndex)
	}
	if d.Scores["p1"] != 30 {
		t.Errorf("score = %d, want 30", d.Scores["p1"])
	}
}

func TestAnswerDeltaEncodesWaypointZero(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})

	d, err := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "wrong"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"waypointIndex":0`, `"correct":false`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("delta %s missing %s", data, want)
		}
	}
}

func TestSessionLeaderAdvancesSharedIndex(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})
	s.Apply(Join{PlayerID: "p2"})

	// p1 answers the shared waypoint first and advances the room.
	d, _ := s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})
	if d.CurrentWaypointIndex != 1 {
		t.Fatalf("index = %d, want 1", d.CurrentWaypointIndex)
	}

	// p2 answering the already-passed waypoint scores but does not move the index.
	d, _ = s.Apply(Submit{PlayerID: "p2", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})
	if d.CurrentWaypointIndex != 1 {
		t.Errorf("index = %d after trailing answer, want 1", d.CurrentWaypointIndex)
	}
	if d.Scores["p2"] != 10 {
		t.Errorf("p2 score = %d, want 10", d.Scores["p2"])
	}
}

func TestSessionLeaveKeepsProgress(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})
	s.Apply(Submit{PlayerID: "p1", WaypointIndex: 0, Answer: AnswerPayload{Text: "paris"}})

	d, err := s.Apply(Leave{PlayerID: "p1"})
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if d.State != StateActive {
		t.Errorf("leave transitioned state to %v", d.State)
	}
	if s.ConnectedCount() != 0 {
		t.Errorf("connected = %d, want 0", s.ConnectedCount())
	}

	// Rejoining finds the earlier progress intact.
	d, _ = s.Apply(Join{PlayerID: "p1"})
	if d.Scores["p1"] != 10 {
		t.Errorf("score after rejoin = %d, want 10", d.Scores["p1"])
	}
}

func TestSessionAbort(t *testing.T) {
	s := NewSession("track-1", twoCityTrack())
	s.Apply(Join{PlayerID: "p1"})

	d, err := s.Apply(Abort{Reason: "track deleted"})
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if d.State != StateAborted || d.Reason != "track deleted" {
		t.Errorf("abort delta = %+v", d)
	}
	if s.Results() != nil {
		t.Error("aborted session must not produce scoreboard entries")
	}
}
