package facematch

import (
	"math"
	"testing"
)

func TestLandmarkSpans(t *testing.T) {
	l := testLandmarks(100, 100, 0)

	if got := len(l.JawOutline()); got != 17 {
		t.Errorf("len(JawOutline()) = %d, want 17", got)
	}
	if got := len(l.Nose()); got != 9 {
		t.Errorf("len(Nose()) = %d, want 9", got)
	}
	if got := len(l.LeftEye()); got != 6 {
		t.Errorf("len(LeftEye()) = %d, want 6", got)
	}
	if got := len(l.RightEye()); got != 6 {
		t.Errorf("len(RightEye()) = %d, want 6", got)
	}

	short := l[:30]
	if got := len(short.Nose()); got != 3 {
		t.Errorf("len(Nose()) on truncated = %d, want 3", got)
	}
	if got := short.LeftEye(); got != nil {
		t.Errorf("LeftEye() on truncated = %v, want nil", got)
	}
}

func TestCentroid(t *testing.T) {
	c, ok := Centroid([]Point{{0, 0}, {4, 0}, {4, 2}, {0, 2}})
	if !ok {
		t.Fatal("expected ok")
	}
	if c.X != 2 || c.Y != 1 {
		t.Errorf("Centroid() = %+v, want {2 1}", c)
	}

	if _, ok := Centroid(nil); ok {
		t.Error("Centroid(nil) should not be ok")
	}
}

func TestRollAngle(t *testing.T) {
	tests := []struct {
		name string
		dy   float64
		want float64
	}{
		{"level", 0, 0},
		{"right eye lower", 45, 45},
		{"right eye higher", -45, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RollAngle(testLandmarks(200, 200, tt.dy))
			if !ok {
				t.Fatal("expected ok")
			}
			if math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("RollAngle() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := RollAngle(nil); ok {
		t.Error("RollAngle(nil) should not be ok")
	}
}

func TestVisibleRatio(t *testing.T) {
	points := []Point{{10, 10}, {-1, 10}, {10, 481}, {640, 480}}

	if got := VisibleRatio(points, 640, 480); got != 0.5 {
		t.Errorf("VisibleRatio() = %v, want 0.5", got)
	}
	if got := VisibleRatio(nil, 640, 480); got != 0 {
		t.Errorf("VisibleRatio(nil) = %v, want 0", got)
	}
}

func TestJawAsymmetry(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  float64
	}{
		{"full jaw", 17, 1.0 / 8.0},
		{"half jaw", 12, 0.5},
		{"left half only", 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := make(Landmarks, tt.count)
			if got := JawAsymmetry(l); math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("JawAsymmetry() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := JawAsymmetry(nil); !math.IsInf(got, 1) {
		t.Errorf("JawAsymmetry(nil) = %v, want +Inf", got)
	}
}

func TestBoxFromCorners(t *testing.T) {
	got := BoxFromCorners([]float64{10, 20, 110, 140})
	want := Box{X: 10, Y: 20, Width: 100, Height: 120}
	if got != want {
		t.Errorf("BoxFromCorners() = %+v, want %+v", got, want)
	}

	if got := BoxFromCorners([]float64{1, 2}); got != (Box{}) {
		t.Errorf("BoxFromCorners(short) = %+v, want zero", got)
	}
}
