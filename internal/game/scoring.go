package game

import (
	"math"
	"strings"

	"github.com/geopuzzle/api/internal/geopuzzle"
)

const (
	basePoints  = 10
	missPenalty = 2
)

// AnswerPayload is what a player submits for a waypoint. Text answers use
// Text; geo check-ins use Lat/Lng. A payload missing whatever the waypoint
// requires is simply incorrect, never an error.
type AnswerPayload struct {
	Text string   `json:"text,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// Evaluation is the outcome of scoring a single submission.
type Evaluation struct {
	Correct bool
	Points  int
}

// Evaluate scores a submission against a waypoint. Deterministic, no side
// effects. Text matches are case-insensitive and whitespace-normalized
// against any accepted answer. A geo anchor requires the submitted
// coordinate to lie within the tolerance radius (great-circle distance).
// When a waypoint carries both accepted answers and an anchor, both
// conditions must hold. Points start at a fixed base and shrink with each
// prior incorrect attempt on the same waypoint, never below zero.
func Evaluate(wp geopuzzle.Waypoint, answer AnswerPayload, priorMisses int) Evaluation {
	correct := true
	matched := false

	if len(wp.Answers) > 0 {
		want := normalizeAnswer(answer.Text)
		for _, accepted := range wp.Answers {
			if want != "" && want == normalizeAnswer(accepted) {
				matched = true
				break
			}
		}
		correct = matched
	}

	if wp.Geo != nil {
		if answer.Lat == nil || answer.Lng == nil {
			correct = false
		} else {
			dist := haversineMeters(*answer.Lat, *answer.Lng, wp.Geo.Lat, wp.Geo.Lng)
			correct = correct && dist <= wp.Geo.RadiusM
		}
	}

	// A waypoint with neither answers nor an anchor can never be solved;
	// treat any submission against it as incorrect.
	if len(wp.Answers) == 0 && wp.Geo == nil {
		correct = false
	}

	if !correct {
		return Evaluation{}
	}

	points := basePoints - priorMisses*missPenalty
	if points < 0 {
		points = 0
	}
	return Evaluation{Correct: true, Points: points}
}

// normalizeAnswer lowercases and collapses all interior whitespace runs to a
// single space, trimming the ends.
func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

const earthRadiusM = 6371000.0

// haversineMeters returns the great-circle distance between two coordinates.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
