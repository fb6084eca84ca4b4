package facematch

import "math"

// Landmark index ranges, end exclusive.
const (
	jawStart      = 0
	jawEnd        = 17
	noseStart     = 27
	noseEnd       = 36
	leftEyeStart  = 36
	leftEyeEnd    = 42
	rightEyeStart = 42
	rightEyeEnd   = 48
)

func (l Landmarks) span(from, to int) []Point {
	if from >= len(l) {
		return nil
	}
	if to > len(l) {
		to = len(l)
	}
	return l[from:to]
}

// JawOutline returns landmarks 0-16.
func (l Landmarks) JawOutline() []Point { return l.span(jawStart, jawEnd) }

// Nose returns landmarks 27-35.
func (l Landmarks) Nose() []Point { return l.span(noseStart, noseEnd) }

// LeftEye returns landmarks 36-41.
func (l Landmarks) LeftEye() []Point { return l.span(leftEyeStart, leftEyeEnd) }

// RightEye returns landmarks 42-47.
func (l Landmarks) RightEye() []Point { return l.span(rightEyeStart, rightEyeEnd) }

// Centroid returns the mean of points. ok is false for an empty slice.
func Centroid(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	var c Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: c.X / n, Y: c.Y / n}, true
}

// RollAngle returns the absolute angle in degrees of the line from the
// left-eye centroid to the right-eye centroid. ok is false when either eye
// has no landmarks.
func RollAngle(l Landmarks) (float64, bool) {
	left, ok := Centroid(l.LeftEye())
	if !ok {
		return 0, false
	}
	right, ok := Centroid(l.RightEye())
	if !ok {
		return 0, false
	}
	rad := math.Atan2(right.Y-left.Y, right.X-left.X)
	return math.Abs(rad * 180 / math.Pi), true
}

// VisibleRatio returns the share of points inside [0,width]x[0,height].
// An empty slice has ratio 0.
func VisibleRatio(points []Point, width, height int) float64 {
	if len(points) == 0 {
		return 0
	}
	visible := 0
	for _, p := range points {
		if p.X >= 0 && p.X <= float64(width) && p.Y >= 0 && p.Y <= float64(height) {
			visible++
		}
	}
	return float64(visible) / float64(len(points))
}

// JawAsymmetry compares the point counts of the two jaw halves, split at
// index 8. It returns +Inf when the left half is empty.
func JawAsymmetry(l Landmarks) float64 {
	jaw := l.JawOutline()
	split := min(8, len(jaw))
	left, right := jaw[:split], jaw[split:]
	if len(left) == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(len(left)-len(right))) / float64(len(left))
}

// BoxFromCorners converts an [x1, y1, x2, y2] pixel box to a Box.
// Returns a zero Box for malformed input.
func BoxFromCorners(bbox []float64) Box {
	if len(bbox) != 4 {
		return Box{}
	}
	return Box{
		X:      bbox[0],
		Y:      bbox[1],
		Width:  bbox[2] - bbox[0],
		Height: bbox[3] - bbox[1],
	}
}
