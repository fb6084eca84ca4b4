package facematch

import (
	"sync"
	"time"
)

// DetectionWindow is the longest gap between two accepted frames that still
// counts as consecutive.
const DetectionWindow = 2000 * time.Millisecond

// DetectionState is the running record of consecutive identifications of
// one employee.
type DetectionState struct {
	Count           int       `json:"count"`
	LastDetection   time.Time `json:"last_detection"`
	AverageDistance float64   `json:"average_distance"`
}

// Smoother confirms an identity only after it has been matched in enough
// consecutive frames with a low enough average distance. One smoother
// belongs to one detection session.
type Smoother struct {
	mu          sync.Mutex
	required    int
	maxDistance float64
	now         func() time.Time
	states      map[int64]*DetectionState
}

// NewSmoother creates a smoother confirming after required detections with
// an average distance of at most maxDistance.
func NewSmoother(required int, maxDistance float64) *Smoother {
	return &Smoother{
		required:    required,
		maxDistance: maxDistance,
		now:         time.Now,
		states:      make(map[int64]*DetectionState),
	}
}

// WithClock replaces the time source, for tests.
func (s *Smoother) WithClock(now func() time.Time) *Smoother {
	s.now = now
	return s
}

// Accept records a match for employeeID and reports whether the identity
// is now confirmed. A first match, or one arriving more than
// DetectionWindow after the previous, starts a new run and is never
// confirmed on its own.
func (s *Smoother) Accept(employeeID int64, match MatchResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, ok := s.states[employeeID]
	if !ok || now.Sub(state.LastDetection) > DetectionWindow {
		s.states[employeeID] = &DetectionState{
			Count:           1,
			LastDetection:   now,
			AverageDistance: match.Distance,
		}
		return false
	}

	state.Count++
	state.LastDetection = now
	state.AverageDistance = (state.AverageDistance*float64(state.Count-1) + match.Distance) / float64(state.Count)

	return state.Count >= s.required && state.AverageDistance <= s.maxDistance
}

// State returns a copy of the running state for employeeID.
func (s *Smoother) State(employeeID int64) (DetectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[employeeID]
	if !ok {
		return DetectionState{}, false
	}
	return *state, true
}

// Forget drops the state of one employee, used once their attendance
// has been committed.
func (s *Smoother) Forget(employeeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, employeeID)
}

// Reset drops all state.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.states)
}
