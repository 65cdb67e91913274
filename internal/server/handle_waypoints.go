package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/geopuzzle/api/internal/geopuzzle"
	"github.com/geopuzzle/api/internal/storage"
)

const maxUploadBytes = 5 << 20 // images only

type GeoAnchorRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	RadiusM float64 `json:"radiusM"`
}

// WaypointRequest creates a text waypoint. Graphic waypoints go through the
// multipart form path since they carry an image.
type WaypointRequest struct {
	Clue    string            `json:"clue"`
	Answers []string          `json:"answers"`
	Geo     *GeoAnchorRequest `json:"geo"`
}

func (g *GeoAnchorRequest) validate() error {
	if g.Lat < -90 || g.Lat > 90 {
		return errors.New("lat out of range")
	}
	if g.Lng < -180 || g.Lng > 180 {
		return errors.New("lng out of range")
	}
	if g.RadiusM <= 0 {
		return errors.New("radiusM must be positive")
	}
	return nil
}

func (g *GeoAnchorRequest) anchor() *geopuzzle.GeoAnchor {
	if g == nil {
		return nil
	}
	return &geopuzzle.GeoAnchor{Lat: g.Lat, Lng: g.Lng, RadiusM: g.RadiusM}
}

func normalizeAnswers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// handleAddWaypoint appends a waypoint to a track the caller owns. A JSON
// body makes a text waypoint; a multipart form with an image makes a graphic
// one. Both may carry answers and a geo anchor.
func handleAddWaypoint(store Store, objects storage.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := requireTrackOwner(w, r, store)
		if !ok {
			return
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		var wp geopuzzle.Waypoint
		var err error
		if mediaType == "multipart/form-data" {
			wp, err = graphicWaypointFromForm(r, objects)
		} else {
			wp, err = textWaypointFromJSON(w, r)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		wp, err = store.AddWaypoint(r.Context(), t.ID, wp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, WaypointView{
			Index:     wp.Index,
			Kind:      string(wp.Kind),
			Clue:      wp.Clue,
			ImageURL:  wp.ImageURL,
			GeoBound:  wp.Geo != nil,
			TextBound: len(wp.Answers) > 0,
		})
	}
}

func textWaypointFromJSON(w http.ResponseWriter, r *http.Request) (geopuzzle.Waypoint, error) {
	var req WaypointRequest
	if err := readJSON(w, r, &req); err != nil {
		return geopuzzle.Waypoint{}, errors.New("invalid request body")
	}

	req.Clue = strings.TrimSpace(req.Clue)
	if req.Clue == "" {
		return geopuzzle.Waypoint{}, errors.New("clue is required")
	}
	answers := normalizeAnswers(req.Answers)
	if len(answers) == 0 && req.Geo == nil {
		return geopuzzle.Waypoint{}, errors.New("waypoint needs answers or a geo anchor")
	}
	if req.Geo != nil {
		if err := req.Geo.validate(); err != nil {
			return geopuzzle.Waypoint{}, err
		}
	}

	return geopuzzle.Waypoint{
		Kind:    geopuzzle.WaypointText,
		Clue:    req.Clue,
		Answers: answers,
		Geo:     req.Geo.anchor(),
	}, nil
}

// graphicWaypointFromForm reads the multipart fields: "image" (required),
// "clue", "answers" (JSON array) and optional "lat"/"lng"/"radiusM".
func graphicWaypointFromForm(r *http.Request, objects storage.ObjectStore) (geopuzzle.Waypoint, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return geopuzzle.Waypoint{}, errors.New("invalid multipart form")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return geopuzzle.Waypoint{}, errors.New("image file is required")
	}
	defer file.Close()

	var answers []string
	if raw := r.FormValue("answers"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &answers); err != nil {
			return geopuzzle.Waypoint{}, errors.New("answers must be a JSON string array")
		}
	}
	answers = normalizeAnswers(answers)

	var geo *GeoAnchorRequest
	if r.FormValue("lat") != "" || r.FormValue("lng") != "" {
		lat, errLat := strconv.ParseFloat(r.FormValue("lat"), 64)
		lng, errLng := strconv.ParseFloat(r.FormValue("lng"), 64)
		radius, errRad := strconv.ParseFloat(r.FormValue("radiusM"), 64)
		if errLat != nil || errLng != nil || errRad != nil {
			return geopuzzle.Waypoint{}, errors.New("lat, lng and radiusM must be numbers")
		}
		geo = &GeoAnchorRequest{Lat: lat, Lng: lng, RadiusM: radius}
		if err := geo.validate(); err != nil {
			return geopuzzle.Waypoint{}, err
		}
	}
	if len(answers) == 0 && geo == nil {
		return geopuzzle.Waypoint{}, errors.New("waypoint needs answers or a geo anchor")
	}

	contentType, key, err := imageKey(header.Filename, header.Header.Get("Content-Type"), "waypoints")
	if err != nil {
		return geopuzzle.Waypoint{}, err
	}
	url, err := objects.Put(r.Context(), key, contentType, file)
	if err != nil {
		return geopuzzle.Waypoint{}, errors.New("storing image failed")
	}

	return geopuzzle.Waypoint{
		Kind:     geopuzzle.WaypointGraphic,
		Clue:     strings.TrimSpace(r.FormValue("clue")),
		ImageURL: url,
		Answers:  answers,
		Geo:      geo.anchor(),
	}, nil
}

func handleDeleteWaypoint(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := requireTrackOwner(w, r, store)
		if !ok {
			return
		}

		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
			return
		}

		err = store.DeleteWaypoint(r.Context(), t.ID, index)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "waypoint not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSetThumbnail replaces the track thumbnail with an uploaded image.
func handleSetThumbnail(store Store, objects storage.ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := requireTrackOwner(w, r, store)
		if !ok {
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "image file is required")
			return
		}
		defer file.Close()

		contentType, key, err := imageKey(header.Filename, header.Header.Get("Content-Type"), "tracks")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		url, err := objects.Put(r.Context(), key, contentType, file)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "storing image failed")
			return
		}

		if err := store.SetTrackThumbnail(r.Context(), t.ID, url); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		t.ThumbnailURL = url
		writeJSON(w, http.StatusOK, trackSummary(t))
	}
}

// handleClearThumbnail resets the thumbnail to the default image.
func handleClearThumbnail(store Store, defaultThumbnail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := requireTrackOwner(w, r, store)
		if !ok {
			return
		}

		if err := store.SetTrackThumbnail(r.Context(), t.ID, defaultThumbnail); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		t.ThumbnailURL = defaultThumbnail
		writeJSON(w, http.StatusOK, trackSummary(t))
	}
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// imageKey validates the upload is an image and builds a unique object key
// under the given prefix.
func imageKey(filename, declaredType, prefix string) (contentType, key string, err error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := imageExtensions[ext]
	if !ok {
		return "", "", errors.New("unsupported image type")
	}
	if declaredType != "" && declaredType != contentType {
		return "", "", errors.New("content type does not match file extension")
	}
	return contentType, prefix + "/" + uuid.NewString() + ext, nil
}
