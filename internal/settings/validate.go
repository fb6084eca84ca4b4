package settings

import (
	"errors"
	"fmt"
)

// Info describes one tunable for the settings screen.
type Info struct {
	Key         string  `json:"key"`
	Description string  `json:"description"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Default     float64 `json:"default"`
}

type bound struct {
	key         string
	description string
	value       float64
	min, max    float64
}

func (t Tunables) bounds() []bound {
	return []bound{
		{"MIN_CONFIDENCE", "Minimum detector confidence used when reading reference images", t.MinConfidence, 0, 1},
		{"RECOGNITION_THRESHOLD", "Confidence a match must exceed to count as identified", t.RecognitionThreshold, 0, 1},
		{"MIN_FACE_SIZE", "Minimum face box width and height in pixels", float64(t.MinFaceSize), 20, 200},
		{"REQUIRED_CONSECUTIVE_DETECTIONS", "Consecutive identifications needed before attendance is logged", float64(t.RequiredConsecutiveDetections), 1, 10},
		{"DETECTION_INTERVAL", "Time between detection ticks in milliseconds", float64(t.DetectionIntervalMS), 100, 5000},
		{"MAX_ANGLE", "Maximum head roll in degrees", t.MaxAngle, 0, 90},
		{"MIN_BRIGHTNESS", "Minimum mean frame luminance, 0 disables the check", t.MinBrightness, 0, 1},
		{"MIN_FACE_SCORE", "Minimum detection score of a live face", t.MinFaceScore, 0, 1},
		{"MAX_DETECTION_DISTANCE", "Maximum average distance for a confirmed identification", t.MaxDetectionDistance, 0, 2},
		{"MIN_LANDMARKS_VISIBILITY", "Minimum share of nose landmarks inside the frame", t.MinLandmarksVisibility, 0, 1},
		{"LATE_THRESHOLD_HOUR", "Hour after which a check-in counts as late", float64(t.LateThresholdHour), 0, 23},
		{"LATE_THRESHOLD_MINUTE", "Minute after which a check-in counts as late", float64(t.LateThresholdMinute), 0, 59},
	}
}

// Validate checks every tunable against its range and reports all
// violations at once.
func (t Tunables) Validate() error {
	var errs []error
	for _, b := range t.bounds() {
		if b.value < b.min || b.value > b.max {
			errs = append(errs, fmt.Errorf("%s must be between %g and %g, got %g", b.key, b.min, b.max, b.value))
		}
	}
	return errors.Join(errs...)
}

// Describe lists every tunable with its range and default.
func Describe() []Info {
	defaults := Defaults().bounds()
	out := make([]Info, len(defaults))
	for i, b := range defaults {
		out[i] = Info{
			Key:         b.key,
			Description: b.description,
			Min:         b.min,
			Max:         b.max,
			Default:     b.value,
		}
	}
	return out
}
