// Package facematch holds the pure face-matching pipeline stages: the
// quality gate, the nearest-identity matcher and the temporal smoother.
package facematch

// UnknownLabel is reported when no gallery identity is close enough.
const UnknownLabel = "Unknown"

// Point is a landmark position in frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a face bounding box in frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Landmarks are the 68 facial points in iBUG order.
type Landmarks []Point

// Detection is one face found in one frame. It is never persisted.
type Detection struct {
	Box       Box
	Score     float64
	Landmarks Landmarks
	Embedding []float32
}

// FrameInfo describes the frame a detection came from. Brightness is the
// mean luminance in [0,1], or negative when unknown.
type FrameInfo struct {
	Width      int
	Height     int
	Brightness float64
}

// Candidate is one identity whose best distance fell under the cutoff.
type Candidate struct {
	EmployeeID int64   `json:"employee_id"`
	Name       string  `json:"name"`
	Distance   float64 `json:"distance"`
}

// MatchResult is the outcome of matching one live embedding.
type MatchResult struct {
	EmployeeID int64   `json:"employee_id,omitempty"`
	Label      string  `json:"label"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`

	// Diagnostics only, never used for the accept decision.
	AverageDistance float64     `json:"average_distance"`
	Candidates      []Candidate `json:"candidates,omitempty"`
}

// Known reports whether the result names a gallery identity.
func (r MatchResult) Known() bool {
	return r.Label != UnknownLabel
}
