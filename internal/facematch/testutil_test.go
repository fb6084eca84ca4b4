package facematch

// testLandmarks builds a frontal 68-point face centered at (cx, cy) with
// the eye line tilted by dy pixels (right eye lower when dy > 0).
func testLandmarks(cx, cy, dy float64) Landmarks {
	l := make(Landmarks, 68)
	for i := 0; i < 17; i++ {
		l[i] = Point{X: cx - 40 + float64(i)*5, Y: cy + 30}
	}
	for i := 27; i < 36; i++ {
		l[i] = Point{X: cx, Y: cy - 10 + float64(i-27)*3}
	}
	for i := 36; i < 42; i++ {
		l[i] = Point{X: cx - 25 + float64(i-36), Y: cy - 20}
	}
	for i := 42; i < 48; i++ {
		l[i] = Point{X: cx + 20 + float64(i-42), Y: cy - 20 + dy}
	}
	for i := 48; i < 68; i++ {
		l[i] = Point{X: cx, Y: cy + 20}
	}
	return l
}

// testDetection returns a detection that passes the default thresholds
// inside a 640x480 frame.
func testDetection() Detection {
	return Detection{
		Box:       Box{X: 270, Y: 190, Width: 100, Height: 100},
		Score:     0.9,
		Landmarks: testLandmarks(320, 240, 0),
		Embedding: []float32{0.1, 0.2, 0.3},
	}
}

var testFrame = FrameInfo{Width: 640, Height: 480, Brightness: -1}

var defaultThresholds = QualityThresholds{
	MinFaceScore:           0.3,
	MinFaceSize:            80,
	MinLandmarksVisibility: 0,
	MaxAngle:               25,
	MinBrightness:          0.3,
}
