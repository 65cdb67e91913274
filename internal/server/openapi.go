package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/geopuzzle/api/internal/leaderboard"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "GeoPuzzle API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for the GeoPuzzle location game.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Reports the health of backend dependencies and the live session count.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws/game
	getWSGame, _ := r.NewOperationContext(http.MethodGet, "/ws/game")
	getWSGame.SetSummary("Game session WebSocket")
	getWSGame.SetDescription("Upgrades to the real-time game connection. Requires a Bearer token (or ?token=). The first frame must be a join naming the room.")
	getWSGame.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	getWSGame.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getWSGame)

	// POST /api/auth/signup
	postSignup, _ := r.NewOperationContext(http.MethodPost, "/api/auth/signup")
	postSignup.SetSummary("Sign up")
	postSignup.SetDescription("Creates a user account and returns a Bearer token.")
	postSignup.AddReqStructure(SignupRequest{})
	postSignup.AddRespStructure(AuthResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	postSignup.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postSignup.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postSignup)

	// POST /api/auth/login
	postLogin, _ := r.NewOperationContext(http.MethodPost, "/api/auth/login")
	postLogin.SetSummary("Log in")
	postLogin.SetDescription("Authenticates with username and password, returns a Bearer token.")
	postLogin.AddReqStructure(LoginRequest{})
	postLogin.AddRespStructure(AuthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postLogin.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postLogin)

	// GET /api/users/{userID}
	getUser, _ := r.NewOperationContext(http.MethodGet, "/api/users/{userID}")
	getUser.SetSummary("Get user")
	getUser.SetDescription("Returns the public profile of a user.")
	getUser.AddRespStructure(UserResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getUser.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getUser)

	// GET /api/tracks
	listTracks, _ := r.NewOperationContext(http.MethodGet, "/api/tracks")
	listTracks.SetSummary("List tracks")
	listTracks.SetDescription("Returns all tracks, newest first.")
	listTracks.AddRespStructure([]TrackSummary{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listTracks)

	// GET /api/tracks/{trackID}
	getTrack, _ := r.NewOperationContext(http.MethodGet, "/api/tracks/{trackID}")
	getTrack.SetSummary("Get track")
	getTrack.SetDescription("Returns a track with its waypoints. Answers and geo anchors are never included.")
	getTrack.AddRespStructure(TrackDetail{}, openapi.WithHTTPStatus(http.StatusOK))
	getTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getTrack)

	// POST /api/tracks
	createTrack, _ := r.NewOperationContext(http.MethodPost, "/api/tracks")
	createTrack.SetSummary("Create track")
	createTrack.SetDescription("Creates an empty track owned by the caller. Requires Bearer token.")
	createTrack.AddReqStructure(CreateTrackRequest{})
	createTrack.AddRespStructure(TrackSummary{}, openapi.WithHTTPStatus(http.StatusCreated))
	createTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(createTrack)

	// PATCH /api/tracks/{trackID}
	renameTrack, _ := r.NewOperationContext(http.MethodPatch, "/api/tracks/{trackID}")
	renameTrack.SetSummary("Rename track")
	renameTrack.SetDescription("Renames a track. Owner only.")
	renameTrack.AddReqStructure(RenameTrackRequest{})
	renameTrack.AddRespStructure(TrackSummary{}, openapi.WithHTTPStatus(http.StatusOK))
	renameTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	renameTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(renameTrack)

	// DELETE /api/tracks/{trackID}
	deleteTrack, _ := r.NewOperationContext(http.MethodDelete, "/api/tracks/{trackID}")
	deleteTrack.SetSummary("Delete track")
	deleteTrack.SetDescription("Deletes a track, aborting any live session on it. Owner only.")
	deleteTrack.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	deleteTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	deleteTrack.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(deleteTrack)

	// POST /api/tracks/{trackID}/waypoints
	addWaypoint, _ := r.NewOperationContext(http.MethodPost, "/api/tracks/{trackID}/waypoints")
	addWaypoint.SetSummary("Add waypoint")
	addWaypoint.SetDescription("Appends a waypoint. JSON creates a text waypoint; multipart/form-data with an image creates a graphic one. Owner only.")
	addWaypoint.AddReqStructure(WaypointRequest{})
	addWaypoint.AddRespStructure(WaypointView{}, openapi.WithHTTPStatus(http.StatusCreated))
	addWaypoint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	addWaypoint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(addWaypoint)

	// DELETE /api/tracks/{trackID}/waypoints/{index}
	deleteWaypoint, _ := r.NewOperationContext(http.MethodDelete, "/api/tracks/{trackID}/waypoints/{index}")
	deleteWaypoint.SetSummary("Delete waypoint")
	deleteWaypoint.SetDescription("Removes a waypoint and renumbers the rest so indices stay contiguous. Owner only.")
	deleteWaypoint.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	deleteWaypoint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	deleteWaypoint.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(deleteWaypoint)

	// PUT /api/tracks/{trackID}/thumbnail
	setThumb, _ := r.NewOperationContext(http.MethodPut, "/api/tracks/{trackID}/thumbnail")
	setThumb.SetSummary("Set thumbnail")
	setThumb.SetDescription("Uploads a new track thumbnail as multipart/form-data. Owner only.")
	setThumb.AddRespStructure(TrackSummary{}, openapi.WithHTTPStatus(http.StatusOK))
	setThumb.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	setThumb.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(setThumb)

	// DELETE /api/tracks/{trackID}/thumbnail
	clearThumb, _ := r.NewOperationContext(http.MethodDelete, "/api/tracks/{trackID}/thumbnail")
	clearThumb.SetSummary("Reset thumbnail")
	clearThumb.SetDescription("Resets the thumbnail to the default image. Owner only.")
	clearThumb.AddRespStructure(TrackSummary{}, openapi.WithHTTPStatus(http.StatusOK))
	clearThumb.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(clearThumb)

	// GET /api/scoreboard
	listScores, _ := r.NewOperationContext(http.MethodGet, "/api/scoreboard")
	listScores.SetSummary("List scoreboard entries")
	listScores.SetDescription("Returns finalized results, best score first. Filter with ?trackId= and cap with ?limit=.")
	listScores.AddRespStructure([]ScoreboardEntryResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listScores)

	// GET /api/scoreboard/top/{trackID}
	topScores, _ := r.NewOperationContext(http.MethodGet, "/api/scoreboard/top/{trackID}")
	topScores.SetSummary("Live top scores")
	topScores.SetDescription("Returns the live Redis ranking for a track. 503 when no leaderboard is configured.")
	topScores.AddRespStructure([]leaderboard.Entry{}, openapi.WithHTTPStatus(http.StatusOK))
	topScores.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(topScores)

	// DELETE /api/scoreboard/{scoreID}
	deleteScore, _ := r.NewOperationContext(http.MethodDelete, "/api/scoreboard/{scoreID}")
	deleteScore.SetSummary("Delete scoreboard entry")
	deleteScore.SetDescription("Removes an entry. Allowed for the player who earned it or the track owner.")
	deleteScore.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	deleteScore.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	deleteScore.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(deleteScore)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
