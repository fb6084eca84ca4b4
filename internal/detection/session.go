// Package detection runs the check-in loop: frames are captured on a fixed
// interval, checked for quality, matched against the gallery, smoothed over
// consecutive frames and committed as attendance.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

// State is the lifecycle state of a session.
type State string

// State values.
const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

var (
	// ErrSessionRunning is returned when a session is already active.
	ErrSessionRunning = errors.New("detection session already running")
	// ErrNoSession is returned when there is no running session.
	ErrNoSession = errors.New("no running detection session")
)

const (
	defaultCommitTimeout = 5 * time.Second
	sinkTimeout          = 5 * time.Second
)

// Engine is the face detection service.
type Engine interface {
	Ready(ctx context.Context) error
	Detect(ctx context.Context, imageData []byte, minScore float64) (*facematch.Detection, error)
}

// GalleryBuilder loads the descriptor gallery.
type GalleryBuilder interface {
	Build(ctx context.Context) (*facematch.Gallery, gallery.Report, error)
}

// AttendanceLogger writes check-ins. Lateness is judged against the
// threshold the session snapshotted at start.
type AttendanceLogger interface {
	LogWithThreshold(ctx context.Context, employeeID int64, confidence float64, late attendance.Threshold) (attendance.Outcome, error)
}

// TunableSource provides the tunables snapshotted at session start.
type TunableSource interface {
	Get() settings.Tunables
}

// Config holds the collaborators of a session.
type Config struct {
	Engine   Engine
	Cameras  camera.Lister
	Hints    camera.Hints
	Gallery  GalleryBuilder
	Recorder AttendanceLogger
	Tunables TunableSource
	Metrics  *metrics.Metrics
	Sinks    []Sink

	CommitTimeout  time.Duration // bound on one attendance write, default 5s
	CommitCooldown time.Duration // pause after a commit, zero or negative disables
	LogLimit       int           // session log entries kept, default 500
}

// Status is a snapshot of a session.
type Status struct {
	SessionID    string                    `json:"session_id"`
	State        State                     `json:"state"`
	Device       string                    `json:"device,omitempty"`
	StartedAt    *time.Time                `json:"started_at,omitempty"`
	StoppedAt    *time.Time                `json:"stopped_at,omitempty"`
	GallerySize  int                       `json:"gallery_size"`
	Descriptors  int                       `json:"descriptors"`
	Skipped      []gallery.SkippedEmployee `json:"skipped,omitempty"`
	Degraded     bool                      `json:"degraded"`
	Error        string                    `json:"error,omitempty"`
	Ticks        int64                     `json:"ticks"`
	DroppedTicks int64                     `json:"dropped_ticks"`
	CheckIns     int                       `json:"checkins"`
	LastOverlay  *Overlay                  `json:"last_overlay,omitempty"`
	Tunables     *settings.Tunables        `json:"tunables,omitempty"`
}

// Session is one run of the detection loop. It owns the capture stream,
// the gallery and the smoother state, all of which die with it.
type Session struct {
	broadcaster

	cfg Config
	id  string

	mu          sync.RWMutex
	state       State
	device      string
	startedAt   time.Time
	stoppedAt   time.Time
	report      gallery.Report
	tunables    settings.Tunables
	degraded    bool
	lastErr     string
	lastOverlay *Overlay
	log         []CheckIn

	gallery  *facematch.Gallery
	smoother *facematch.Smoother
	stream   camera.Stream

	busy    atomic.Bool
	ticks   atomic.Int64
	dropped atomic.Int64

	commits chan facematch.MatchResult
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = defaultCommitTimeout
	}
	if cfg.CommitCooldown < 0 {
		cfg.CommitCooldown = 0
	}
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = constants.SessionLogLimit
	}
	return &Session{
		cfg:     cfg,
		id:      uuid.NewString(),
		state:   StateIdle,
		commits: make(chan facematch.MatchResult, 1),
		done:    make(chan struct{}),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.send(Event{Type: EventState, State: state})
}

// Start initializes the session and starts the loop. ctx bounds the
// initialization only; the loop runs until Stop. Any initialization
// failure releases what was acquired, leaves the session stopped and is
// returned. Stop during initialization aborts it.
func (s *Session) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("session %s is %s", s.id, s.state)
	}
	s.state = StateLoading
	s.cancel = cancel
	s.mu.Unlock()
	s.send(Event{Type: EventState, State: StateLoading})
	slog.Info("starting detection session", "session_id", s.id)

	initCtx, initCancel := context.WithCancel(ctx)
	stopInit := context.AfterFunc(runCtx, initCancel)
	err := s.initialize(initCtx)
	stopInit()
	initCancel()
	if err == nil && runCtx.Err() != nil {
		_ = s.stream.Close()
		err = errors.New("session stopped during initialization")
	}

	if err != nil {
		cancel()
		s.mu.Lock()
		s.lastErr = err.Error()
		s.stoppedAt = time.Now()
		s.mu.Unlock()
		s.setState(StateStopped)
		s.close()
		close(s.done)
		slog.Error("detection session failed to start", "session_id", s.id, "error", err)
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.cfg.Metrics.SetRunning(true)
	s.cfg.Metrics.SetGallerySize(s.gallery.Len())
	s.setState(StateRunning)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(runCtx)
	}()
	go func() {
		defer wg.Done()
		s.commitLoop(runCtx)
	}()
	go s.teardown(&wg)

	slog.Info("detection session running", "session_id", s.id, "device", s.device,
		"gallery", s.gallery.Len(), "interval", s.tunables.DetectionInterval())
	return nil
}

func (s *Session) initialize(ctx context.Context) error {
	if err := s.cfg.Engine.Ready(ctx); err != nil {
		return fmt.Errorf("face engine not ready: %w", err)
	}

	tunables := s.cfg.Tunables.Get()
	if tunables.DetectionIntervalMS <= 0 {
		return fmt.Errorf("invalid detection interval %dms", tunables.DetectionIntervalMS)
	}

	stream, device, err := camera.OpenPreferred(ctx, s.cfg.Cameras, s.cfg.Hints)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	g, report, err := s.cfg.Gallery.Build(ctx)
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("build gallery: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.device = device.Label()
	s.gallery = g
	s.report = report
	s.tunables = tunables
	s.smoother = facematch.NewSmoother(tunables.RequiredConsecutiveDetections, tunables.MaxDetectionDistance)
	s.mu.Unlock()
	return nil
}

// teardown releases the stream once both goroutines have exited.
func (s *Session) teardown(wg *sync.WaitGroup) {
	wg.Wait()
	if err := s.stream.Close(); err != nil {
		slog.Warn("failed to close capture stream", "session_id", s.id, "error", err)
	}
	s.mu.Lock()
	s.stoppedAt = time.Now()
	s.mu.Unlock()
	s.cfg.Metrics.SetRunning(false)
	s.setState(StateStopped)
	s.close()
	close(s.done)
	slog.Info("detection session stopped", "session_id", s.id, "ticks", s.ticks.Load(), "dropped", s.dropped.Load())
}

// Stop ends the loop and waits until the stream is released. It is safe
// to call more than once and on a session that never started.
func (s *Session) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Wait blocks until the session has stopped.
func (s *Session) Wait() {
	<-s.done
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run starts the session and blocks until ctx is cancelled or the session
// stops, then tears it down.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	s.Stop()
	return nil
}

func (s *Session) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tunables.DetectionInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func qualityThresholds(t settings.Tunables) facematch.QualityThresholds {
	return facematch.QualityThresholds{
		MinFaceScore:           t.MinFaceScore,
		MinFaceSize:            float64(t.MinFaceSize),
		MinLandmarksVisibility: t.MinLandmarksVisibility,
		MaxAngle:               t.MaxAngle,
		MinBrightness:          t.MinBrightness,
	}
}

// tick processes one frame. A tick arriving while a commit is in flight is
// dropped, never queued.
func (s *Session) tick(ctx context.Context) {
	if s.busy.Load() {
		s.dropped.Add(1)
		s.cfg.Metrics.DropTick()
		return
	}
	s.ticks.Add(1)
	start := time.Now()
	defer func() { s.cfg.Metrics.ObserveTick(time.Since(start).Seconds()) }()

	frame, err := s.stream.Frame(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("frame capture failed", "session_id", s.id, "error", err)
			s.cfg.Metrics.TickError("capture")
		}
		return
	}

	t := s.tunables
	det, err := s.cfg.Engine.Detect(ctx, frame.Data, t.MinConfidence)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("face detection failed", "session_id", s.id, "error", err)
			s.cfg.Metrics.TickError("engine")
		}
		return
	}
	now := time.Now()
	if det == nil {
		s.overlay(clearedOverlay(now))
		return
	}

	if q := facematch.EvaluateQuality(*det, frame.Info, qualityThresholds(t)); !q.Valid {
		s.cfg.Metrics.Reject(q.Reason)
		s.overlay(rejectedOverlay(det.Box, q.Reason, now))
		return
	}

	match := facematch.Match(det.Embedding, s.gallery, t.MaxDetectionDistance)
	if !match.Known() || match.Confidence <= t.RecognitionThreshold {
		s.cfg.Metrics.Unknown()
		s.overlay(unknownOverlay(det.Box, match, now))
		return
	}

	s.cfg.Metrics.Identified()
	s.overlay(identifiedOverlay(det.Box, match, now))
	if !s.smoother.Accept(match.EmployeeID, match) {
		return
	}

	s.cfg.Metrics.Confirmed()
	s.busy.Store(true)
	select {
	case s.commits <- match:
	default:
		// Unreachable while busy gates ticks.
		s.busy.Store(false)
	}
}

func (s *Session) overlay(o Overlay) {
	s.mu.Lock()
	s.lastOverlay = &o
	s.mu.Unlock()
	s.send(Event{Type: EventOverlay, Overlay: &o})
}

func (s *Session) commitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case match := <-s.commits:
			s.commit(ctx, match)
		}
	}
}

// commit records one confirmed identification, then holds the busy flag
// for the cooldown so the next frames are skipped.
func (s *Session) commit(ctx context.Context, match facematch.MatchResult) {
	defer s.busy.Store(false)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
	start := time.Now()
	outcome, err := s.cfg.Recorder.LogWithThreshold(cctx, match.EmployeeID, match.Confidence, attendance.ThresholdOf(s.tunables))
	cancel()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		s.cfg.Metrics.ObserveWrite(metrics.OutcomeError, elapsed)
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to record attendance", "session_id", s.id, "employee_id", match.EmployeeID, "error", err)
		s.setDegraded(ctx, true, err)
		s.cooldown(ctx)
		return
	}
	s.setDegraded(ctx, false, nil)

	if outcome.Recorded {
		s.cfg.Metrics.ObserveWrite(metrics.OutcomeRecorded, elapsed)
	} else {
		s.cfg.Metrics.ObserveWrite(metrics.OutcomeExisting, elapsed)
	}
	s.smoother.Forget(match.EmployeeID)

	ev := CheckIn{
		SessionID:  s.id,
		EmployeeID: match.EmployeeID,
		Name:       match.Label,
		Confidence: match.Confidence,
		Distance:   match.Distance,
		Recorded:   outcome.Recorded,
		At:         time.Now(),
	}
	if rec := outcome.Record; rec != nil {
		ev.Status = string(rec.Status)
		ev.Lateness = rec.Lateness
		ev.LatenessMinutes = rec.LatenessMinutes
	}

	s.mu.Lock()
	s.log = append(s.log, ev)
	if over := len(s.log) - s.cfg.LogLimit; over > 0 {
		s.log = slices.Delete(s.log, 0, over)
	}
	s.mu.Unlock()
	s.send(Event{Type: EventCheckIn, CheckIn: &ev})

	for _, sink := range s.cfg.Sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.CheckIn(sctx, ev); err != nil {
			slog.Warn("failed to publish check-in", "sink", sink.Name(), "employee_id", ev.EmployeeID, "error", err)
		}
		cancel()
	}

	s.cooldown(ctx)
}

func (s *Session) cooldown(ctx context.Context) {
	if s.cfg.CommitCooldown <= 0 {
		return
	}
	timer := time.NewTimer(s.cfg.CommitCooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// setDegraded flips the degraded indicator and announces transitions.
func (s *Session) setDegraded(ctx context.Context, degraded bool, cause error) {
	s.mu.Lock()
	changed := s.degraded != degraded
	s.degraded = degraded
	if cause != nil {
		s.lastErr = cause.Error()
	} else if changed {
		s.lastErr = ""
	}
	s.mu.Unlock()
	if !changed {
		return
	}

	s.cfg.Metrics.SetDegraded(degraded)
	msg := "attendance store recovered"
	if degraded {
		msg = "attendance store unavailable: " + cause.Error()
		slog.Warn("session degraded", "session_id", s.id, "error", cause)
	} else {
		slog.Info("session recovered", "session_id", s.id)
	}
	s.send(Event{Type: EventDegraded, Degraded: &degraded, Message: msg})

	for _, sink := range s.cfg.Sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.Degraded(sctx, degraded, cause); err != nil {
			slog.Warn("failed to publish degraded state", "sink", sink.Name(), "error", err)
		}
		cancel()
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		SessionID:    s.id,
		State:        s.state,
		Device:       s.device,
		GallerySize:  s.gallery.Len(),
		Descriptors:  s.gallery.DescriptorCount(),
		Skipped:      s.report.Skipped,
		Degraded:     s.degraded,
		Error:        s.lastErr,
		Ticks:        s.ticks.Load(),
		DroppedTicks: s.dropped.Load(),
		CheckIns:     len(s.log),
		LastOverlay:  s.lastOverlay,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
		tunables := s.tunables
		st.Tunables = &tunables
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		st.StoppedAt = &t
	}
	return st
}

// Log returns a copy of the session log, oldest first.
func (s *Session) Log() []CheckIn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.log)
}

// Degraded reports whether the attendance store is currently failing.
func (s *Session) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}
