package facematch

// Rejection reasons, shown to the person in front of the camera.
const (
	ReasonLowScore         = "low detection confidence"
	ReasonTooSmall         = "face too small or too far"
	ReasonCovered          = "face partially covered"
	ReasonNotAligned       = "face not aligned properly"
	ReasonPartiallyVisible = "face partially visible"
	ReasonTooDark          = "lighting too dark"
)

// JawSymmetryTolerance is the largest accepted relative difference between
// the left and right jaw landmark counts.
const JawSymmetryTolerance = 0.2

// QualityThresholds are the quality-related tunables.
type QualityThresholds struct {
	MinFaceScore           float64
	MinFaceSize            float64
	MinLandmarksVisibility float64
	MaxAngle               float64
	MinBrightness          float64
}

// QualityResult is the verdict on a single detection.
type QualityResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func reject(reason string) QualityResult {
	return QualityResult{Reason: reason}
}

// EvaluateQuality checks a detection in a fixed order and stops at the
// first failure. The brightness check only runs when the frame luminance
// is known.
func EvaluateQuality(det Detection, frame FrameInfo, t QualityThresholds) QualityResult {
	if det.Score < t.MinFaceScore {
		return reject(ReasonLowScore)
	}

	if det.Box.Width < t.MinFaceSize || det.Box.Height < t.MinFaceSize {
		return reject(ReasonTooSmall)
	}

	if VisibleRatio(det.Landmarks.Nose(), frame.Width, frame.Height) < t.MinLandmarksVisibility {
		return reject(ReasonCovered)
	}

	angle, ok := RollAngle(det.Landmarks)
	if !ok || angle > t.MaxAngle {
		return reject(ReasonNotAligned)
	}

	if JawAsymmetry(det.Landmarks) > JawSymmetryTolerance {
		return reject(ReasonPartiallyVisible)
	}

	if frame.Brightness >= 0 && t.MinBrightness > 0 && frame.Brightness < t.MinBrightness {
		return reject(ReasonTooDark)
	}

	return QualityResult{Valid: true}
}
