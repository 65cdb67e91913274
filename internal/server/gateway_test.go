package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/geopuzzle/api/internal/game"
	"github.com/geopuzzle/api/internal/geopuzzle"
)

func gameServer(t *testing.T) (*httptest.Server, *testEnv) {
	t.Helper()

	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	return srv, env
}

func dialGame(t *testing.T, ctx context.Context, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/game?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readDelta(t *testing.T, ctx context.Context, conn *websocket.Conn) game.Delta {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var delta game.Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return delta
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame any) {
	t.Helper()

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func seedTrack(t *testing.T, env *testEnv, ownerID string, clues ...string) geopuzzle.Track {
	t.Helper()

	ctx := context.Background()
	track, err := env.store.CreateTrack(ctx, "Test Track", ownerID, "tracks/default.png")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	for _, clue := range clues {
		_, err := env.store.AddWaypoint(ctx, track.ID, geopuzzle.Waypoint{
			Kind:    geopuzzle.WaypointText,
			Clue:    clue,
			Answers: []string{clue},
		})
		if err != nil {
			t.Fatalf("add waypoint: %v", err)
		}
	}
	return track
}

func TestGameRejectsMissingToken(t *testing.T) {
	srv, _ := gameServer(t)

	resp, err := http.Get(srv.URL + "/ws/game")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGameRejectsBadToken(t *testing.T) {
	srv, _ := gameServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/game?token=garbage"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestGamePlayThrough(t *testing.T) {
	srv, env := gameServer(t)
	player := env.signup(t, "alice")
	track := seedTrack(t, env, player.UserID, "paris", "rome")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialGame(t, ctx, srv, player.Token)

	writeFrame(t, ctx, conn, map[string]any{"type": "join", "roomId": track.ID})
	joined := readDelta(t, ctx, conn)
	if joined.Type != game.DeltaJoined || joined.State != game.StateActive {
		t.Fatalf("join delta = %+v, want active player_joined", joined)
	}
	if joined.CurrentWaypointIndex != 0 {
		t.Fatalf("starting index = %d, want 0", joined.CurrentWaypointIndex)
	}

	writeFrame(t, ctx, conn, map[string]any{
		"type": "submit", "waypointIndex": 0,
		"answer": map[string]any{"text": "Paris"},
	})
	first := readDelta(t, ctx, conn)
	if first.Type != game.DeltaAnswer || !first.Correct {
		t.Fatalf("first answer delta = %+v, want correct answer_result", first)
	}
	if first.CurrentWaypointIndex != 1 {
		t.Errorf("index after first = %d, want 1", first.CurrentWaypointIndex)
	}

	writeFrame(t, ctx, conn, map[string]any{
		"type": "submit", "waypointIndex": 1,
		"answer": map[string]any{"text": "rome"},
	})
	done := readDelta(t, ctx, conn)
	if done.Type != game.DeltaCompleted || done.State != game.StateCompleted {
		t.Fatalf("final delta = %+v, want session_completed", done)
	}
	if done.Scores[player.UserID] != 20 {
		t.Errorf("final score = %d, want 20", done.Scores[player.UserID])
	}

	// Completion persisted a scoreboard entry through the sink.
	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err := env.store.ListScores(context.Background(), track.ID, 10)
		if err != nil {
			t.Fatalf("list scores: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].PlayerID != player.UserID || entries[0].FinalScore != 20 {
				t.Fatalf("entry = %+v, want player %s with 20", entries[0], player.UserID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scoreboard entry never appeared, got %d entries", len(entries))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGameWrongAnswerKeepsIndex(t *testing.T) {
	srv, env := gameServer(t)
	player := env.signup(t, "alice")
	track := seedTrack(t, env, player.UserID, "paris", "rome")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialGame(t, ctx, srv, player.Token)
	writeFrame(t, ctx, conn, map[string]any{"type": "join", "roomId": track.ID})
	readDelta(t, ctx, conn)

	writeFrame(t, ctx, conn, map[string]any{
		"type": "submit", "waypointIndex": 0,
		"answer": map[string]any{"text": "london"},
	})
	miss := readDelta(t, ctx, conn)
	if miss.Type != game.DeltaAnswer || miss.Correct {
		t.Fatalf("miss delta = %+v, want incorrect answer_result", miss)
	}
	if miss.CurrentWaypointIndex != 0 {
		t.Errorf("index after miss = %d, want 0", miss.CurrentWaypointIndex)
	}
	if miss.Scores[player.UserID] != 0 {
		t.Errorf("score after miss = %d, want 0", miss.Scores[player.UserID])
	}
}

func TestGameUnknownWaypointErrorFrame(t *testing.T) {
	srv, env := gameServer(t)
	player := env.signup(t, "alice")
	track := seedTrack(t, env, player.UserID, "paris")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialGame(t, ctx, srv, player.Token)
	writeFrame(t, ctx, conn, map[string]any{"type": "join", "roomId": track.ID})
	readDelta(t, ctx, conn)

	writeFrame(t, ctx, conn, map[string]any{
		"type": "submit", "waypointIndex": 5,
		"answer": map[string]any{"text": "paris"},
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame errorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if frame.Type != "error" || frame.Code != "unknown_waypoint" {
		t.Fatalf("frame = %+v, want unknown_waypoint error", frame)
	}
}

func TestGameJoinUnknownTrack(t *testing.T) {
	srv, env := gameServer(t)
	player := env.signup(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialGame(t, ctx, srv, player.Token)
	writeFrame(t, ctx, conn, map[string]any{"type": "join", "roomId": "no-such-track"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame errorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if frame.Code != "unknown_room" {
		t.Fatalf("code = %q, want unknown_room", frame.Code)
	}
}

func readErrorFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) errorFrame {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame errorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return frame
}

func TestGameMalformedFrameThreshold(t *testing.T) {
	srv, env := gameServer(t)
	player := env.signup(t, "alice")
	track := seedTrack(t, env, player.UserID, "paris", "rome")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialGame(t, ctx, srv, player.Token)
	writeFrame(t, ctx, conn, map[string]any{"type": "join", "roomId": track.ID})
	readDelta(t, ctx, conn)

	// Everything below the threshold gets an error frame, not a disconnect.
	for i := 0; i < malformedLimit-1; i++ {
		if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
			t.Fatalf("write garbage %d: %v", i, err)
		}
		frame := readErrorFrame(t, ctx, conn)
		if frame.Type != "error" || frame.Code != "malformed" {
			t.Fatalf("frame %d = %+v, want malformed error", i, frame)
		}
	}

	// The connection is still in the game.
	writeFrame(t, ctx, conn, map[string]any{
		"type": "submit", "waypointIndex": 0,
		"answer": map[string]any{"text": "paris"},
	})
	d := readDelta(t, ctx, conn)
	if d.Type != game.DeltaAnswer || !d.Correct {
		t.Fatalf("delta = %+v, want correct answer after tolerated garbage", d)
	}

	// One more malformed frame crosses the threshold.
	if err := conn.Write(ctx, websocket.MessageText, []byte("still not json")); err != nil {
		t.Fatalf("write final garbage: %v", err)
	}
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected connection to be closed")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v, want policy violation", status)
	}
}

func TestGameUnknownFrameTypeSpamDisconnects(t *testing.T) {
	srv, env := gameServer(t)
	player := env.signup(t, "alice")
	track := seedTrack(t, env, player.UserID, "paris")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialGame(t, ctx, srv, player.Token)
	writeFrame(t, ctx, conn, map[string]any{"type": "join", "roomId": track.ID})
	readDelta(t, ctx, conn)

	for i := 0; i < malformedLimit-1; i++ {
		writeFrame(t, ctx, conn, map[string]any{"type": "bogus"})
		frame := readErrorFrame(t, ctx, conn)
		if frame.Code != "malformed" {
			t.Fatalf("frame %d code = %q, want malformed", i, frame.Code)
		}
	}

	writeFrame(t, ctx, conn, map[string]any{"type": "bogus"})
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected connection to be closed")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v, want policy violation", status)
	}
}

func TestGameTwoPlayersShareDeltas(t *testing.T) {
	srv, env := gameServer(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")
	track := seedTrack(t, env, alice.UserID, "paris", "rome")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connA := dialGame(t, ctx, srv, alice.Token)
	writeFrame(t, ctx, connA, map[string]any{"type": "join", "roomId": track.ID})
	readDelta(t, ctx, connA)

	connB := dialGame(t, ctx, srv, bob.Token)
	writeFrame(t, ctx, connB, map[string]any{"type": "join", "roomId": track.ID})
	readDelta(t, ctx, connB)

	// Alice also sees Bob's join.
	bobJoin := readDelta(t, ctx, connA)
	if bobJoin.Type != game.DeltaJoined || bobJoin.PlayerID != bob.UserID {
		t.Fatalf("delta on alice's conn = %+v, want bob's join", bobJoin)
	}

	// Alice solves the first waypoint; both see the room advance.
	writeFrame(t, ctx, connA, map[string]any{
		"type": "submit", "waypointIndex": 0,
		"answer": map[string]any{"text": "paris"},
	})
	forA := readDelta(t, ctx, connA)
	forB := readDelta(t, ctx, connB)
	for _, d := range []game.Delta{forA, forB} {
		if d.Type != game.DeltaAnswer || !d.Correct || d.CurrentWaypointIndex != 1 {
			t.Fatalf("delta = %+v, want correct answer advancing to 1", d)
		}
	}
}
