package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/geopuzzle/api/internal/auth"
	"github.com/geopuzzle/api/internal/game"
)

const (
	joinDeadline      = 10 * time.Second
	malformedLimit    = 8
	defaultSendWindow = 5 * time.Second
)

// inboundFrame is the single wire shape for client → server messages. The
// type tag decides which fields matter.
type inboundFrame struct {
	Type            string              `json:"type"`
	RoomID          string              `json:"roomId"`
	WaypointIndex   *int                `json:"waypointIndex"`
	Answer          *game.AnswerPayload `json:"answer"`
	ClientTimestamp int64               `json:"clientTimestamp"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// wsConn adapts a websocket connection to the hub's Conn. Every send gets its
// own deadline so one stalled peer cannot wedge a broadcast.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusPolicyViolation, "send timeout")
}

// handleGame is the websocket entry into the session coordinator. The token
// is verified before the upgrade; an unauthenticated request never reaches
// the game layer. After the upgrade the first frame must be a join naming
// the room, then the connection settles into a submit/leave/ping read loop.
func handleGame(logger *slog.Logger, tokens *auth.Tokens, registry *game.Registry, hub *game.Hub, sendTimeout time.Duration) http.HandlerFunc {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendWindow
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		id, err := tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		ws := &wsConn{conn: conn, timeout: sendTimeout}

		roomID, err := awaitJoin(ctx, conn)
		if err != nil {
			sendErrorFrame(ctx, ws, "bad_join", err.Error())
			conn.Close(websocket.StatusPolicyViolation, "join required")
			return
		}

		session, err := registry.GetOrCreate(ctx, roomID)
		if err != nil {
			code := "internal"
			if errors.Is(err, ErrNotFound) {
				code = "unknown_room"
			}
			sendErrorFrame(ctx, ws, code, "cannot join room")
			conn.Close(websocket.StatusPolicyViolation, "join failed")
			return
		}

		connID := uuid.NewString()
		hub.Register(roomID, connID, ws)

		delta, err := session.Apply(game.Join{PlayerID: id.UserID, DisplayName: id.DisplayName})
		if err != nil {
			hub.Unregister(roomID, connID)
			sendErrorFrame(ctx, ws, errorCode(err), "cannot join room")
			conn.Close(websocket.StatusPolicyViolation, "join rejected")
			return
		}
		hub.Publish(ctx, roomID, delta)
		logger.Info("player connected", "room", roomID, "player", id.UserID)

		defer func() {
			hub.Unregister(roomID, connID)
			// The session may already be gone if it completed or was
			// aborted while this player was connected.
			if delta, err := registry.Dispatch(ctx, roomID, game.Leave{PlayerID: id.UserID}); err == nil {
				hub.Publish(ctx, roomID, delta)
			}
			logger.Info("player disconnected", "room", roomID, "player", id.UserID)
		}()

		readLoop(ctx, logger, conn, ws, registry, hub, roomID, id.UserID)
	}
}

// awaitJoin reads the handshake frame. The client has a fixed window to name
// a room before the connection is dropped.
func awaitJoin(ctx context.Context, conn *websocket.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, joinDeadline)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return "", errors.New("no join frame received")
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "join" || frame.RoomID == "" {
		return "", errors.New("first frame must be a join naming a room")
	}
	return frame.RoomID, nil
}

// readLoop pumps client frames into the registry until the connection closes
// or the client exhausts the malformed-frame allowance. Transport errors end
// the loop; protocol errors get an error frame back and the loop continues.
// Unparseable JSON, unknown frame types and incomplete submits all count
// against the allowance; session-level errors never do.
func readLoop(ctx context.Context, logger *slog.Logger, conn *websocket.Conn, ws *wsConn, registry *game.Registry, hub *game.Hub, roomID, playerID string) {
	malformed := 0

	// reject reports whether the connection survives this malformed frame.
	reject := func(msg string) bool {
		malformed++
		if malformed >= malformedLimit {
			conn.Close(websocket.StatusPolicyViolation, "too many malformed frames")
			return false
		}
		sendErrorFrame(ctx, ws, "malformed", msg)
		return true
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if !reject("unparseable frame") {
				return
			}
			continue
		}

		switch frame.Type {
		case "ping":
			// Liveness only. Activity is tracked per command, not per ping.

		case "leave":
			if delta, err := registry.Dispatch(ctx, roomID, game.Leave{PlayerID: playerID}); err == nil {
				hub.Publish(ctx, roomID, delta)
			}
			conn.Close(websocket.StatusNormalClosure, "left")
			return

		case "submit":
			if frame.WaypointIndex == nil || frame.Answer == nil {
				if !reject("submit requires waypointIndex and answer") {
					return
				}
				continue
			}
			cmd := game.Submit{
				PlayerID:      playerID,
				WaypointIndex: *frame.WaypointIndex,
				Answer:        *frame.Answer,
				ClientTime:    time.UnixMilli(frame.ClientTimestamp),
			}
			delta, err := registry.Dispatch(ctx, roomID, cmd)
			if err != nil {
				sendErrorFrame(ctx, ws, errorCode(err), err.Error())
				continue
			}
			hub.Publish(ctx, roomID, delta)
			if delta.Type == game.DeltaCompleted {
				logger.Info("session completed", "room", roomID, "scores", delta.Scores)
			}

		default:
			if !reject("unknown frame type") {
				return
			}
		}
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, game.ErrUnknownWaypoint):
		return "unknown_waypoint"
	case errors.Is(err, game.ErrUnknownRoom):
		return "unknown_room"
	default:
		return "internal"
	}
}

func sendErrorFrame(ctx context.Context, ws *wsConn, code, msg string) {
	data, err := json.Marshal(errorFrame{Type: "error", Code: code, Error: msg})
	if err != nil {
		return
	}
	_ = ws.Send(ctx, data)
}
