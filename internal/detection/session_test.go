package detection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var aliceDescriptor = []float32{0.1, 0.2, 0.3}

// frontalLandmarks builds a 68-point face centered at (cx, cy) that passes
// the quality gate.
func frontalLandmarks(cx, cy float64) facematch.Landmarks {
	l := make(facematch.Landmarks, 68)
	for i := 0; i < 17; i++ {
		l[i] = facematch.Point{X: cx - 40 + float64(i)*5, Y: cy + 30}
	}
	for i := 17; i < 27; i++ {
		l[i] = facematch.Point{X: cx, Y: cy - 30}
	}
	for i := 27; i < 36; i++ {
		l[i] = facematch.Point{X: cx, Y: cy - 10 + float64(i-27)*3}
	}
	for i := 36; i < 42; i++ {
		l[i] = facematch.Point{X: cx - 25 + float64(i-36), Y: cy - 20}
	}
	for i := 42; i < 48; i++ {
		l[i] = facematch.Point{X: cx + 20 + float64(i-42), Y: cy - 20}
	}
	for i := 48; i < 68; i++ {
		l[i] = facematch.Point{X: cx, Y: cy + 20}
	}
	return l
}

func goodDetection(embedding []float32) *facematch.Detection {
	return &facematch.Detection{
		Box:       facematch.Box{X: 310, Y: 230, Width: 100, Height: 100},
		Score:     0.9,
		Landmarks: frontalLandmarks(360, 280),
		Embedding: embedding,
	}
}

type fakeEngine struct {
	readyErr error
	mu       sync.Mutex
	detect   func() (*facematch.Detection, error)
}

func (e *fakeEngine) Ready(context.Context) error { return e.readyErr }

func (e *fakeEngine) Detect(context.Context, []byte, float64) (*facematch.Detection, error) {
	e.mu.Lock()
	fn := e.detect
	e.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn()
}

func (e *fakeEngine) setDetect(fn func() (*facematch.Detection, error)) {
	e.mu.Lock()
	e.detect = fn
	e.mu.Unlock()
}

type fakeStream struct {
	closed atomic.Bool
	frames atomic.Int64
}

func (s *fakeStream) Frame(context.Context) (camera.Frame, error) {
	s.frames.Add(1)
	return camera.Frame{
		Data:       []byte("jpeg"),
		Info:       facematch.FrameInfo{Width: 720, Height: 560, Brightness: -1},
		CapturedAt: time.Now(),
	}, nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeDevice struct {
	label   string
	stream  *fakeStream
	openErr error
}

func (d *fakeDevice) ID() string    { return d.label }
func (d *fakeDevice) Label() string { return d.label }
func (d *fakeDevice) Open(context.Context, camera.Hints) (camera.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

type fakeGallery struct {
	err error
}

func (g *fakeGallery) Build(context.Context) (*facematch.Gallery, gallery.Report, error) {
	if g.err != nil {
		return nil, gallery.Report{}, g.err
	}
	gal := facematch.NewGallery([]facematch.Identity{
		{EmployeeID: 1, Name: "Alice", Descriptors: [][]float32{aliceDescriptor}},
	})
	return gal, gallery.Report{Loaded: 1, Descriptors: 1}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	calls   []int64
	err     error
	block   chan struct{}
	logged  map[int64]bool
	inCall  atomic.Int32
	maxCall atomic.Int32
}

func (r *fakeRecorder) LogWithThreshold(ctx context.Context, employeeID int64, confidence float64, _ attendance.Threshold) (attendance.Outcome, error) {
	n := r.inCall.Add(1)
	defer r.inCall.Add(-1)
	for {
		m := r.maxCall.Load()
		if n <= m || r.maxCall.CompareAndSwap(m, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, employeeID)
	err := r.err
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return attendance.Outcome{}, ctx.Err()
		}
	}
	if err != nil {
		return attendance.Outcome{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logged == nil {
		r.logged = make(map[int64]bool)
	}
	if r.logged[employeeID] {
		return attendance.Outcome{}, nil
	}
	r.logged[employeeID] = true
	return attendance.Outcome{Recorded: true, Record: &database.AttendanceRecord{
		EmployeeID: employeeID,
		Status:     database.StatusPresent,
	}}, nil
}

func (r *fakeRecorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRecorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type fakeSink struct {
	mu       sync.Mutex
	checkIns []CheckIn
	degraded []bool
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) CheckIn(_ context.Context, ev CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIns = append(s.checkIns, ev)
	return nil
}

func (s *fakeSink) Degraded(_ context.Context, degraded bool, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = append(s.degraded, degraded)
	return nil
}

func (s *fakeSink) snapshot() ([]CheckIn, []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CheckIn(nil), s.checkIns...), append([]bool(nil), s.degraded...)
}

type harness struct {
	engine   *fakeEngine
	stream   *fakeStream
	devices  camera.StaticLister
	recorder *fakeRecorder
	sink     *fakeSink
	gallery  *fakeGallery
	tunables settings.Tunables
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tun := settings.Defaults()
	tun.DetectionIntervalMS = 5
	tun.RequiredConsecutiveDetections = 2
	tun.RecognitionThreshold = 0.6
	tun.MaxDetectionDistance = 0.7

	m, err := metrics.New()
	require.NoError(t, err)

	stream := &fakeStream{}
	return &harness{
		engine: &fakeEngine{},
		stream: stream,
		devices: camera.StaticLister{
			&fakeDevice{label: "built-in", stream: &fakeStream{}},
			&fakeDevice{label: "usb", stream: stream},
		},
		recorder: &fakeRecorder{},
		sink:     &fakeSink{},
		gallery:  &fakeGallery{},
		tunables: tun,
		metrics:  m,
	}
}

func (h *harness) config() Config {
	return Config{
		Engine:         h.engine,
		Cameras:        h.devices,
		Hints:          camera.DefaultHints,
		Gallery:        h.gallery,
		Recorder:       h.recorder,
		Tunables:       settings.NewStaticStore(h.tunables),
		Metrics:        h.metrics,
		Sinks:          []Sink{h.sink},
		CommitTimeout:  time.Second,
		CommitCooldown: 20 * time.Millisecond,
	}
}

func TestSession_RecordsConfirmedIdentity(t *testing.T) {
	h := newHarness(t)
	h.engine.setDetect(func() (*facematch.Detection, error) {
		return goodDetection(aliceDescriptor), nil
	})

	s := NewSession(h.config())
	events := s.Subscribe()
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())

	require.Eventually(t, func() bool { return len(s.Log()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	entry := s.Log()[0]
	assert.Equal(t, int64(1), entry.EmployeeID)
	assert.Equal(t, "Alice", entry.Name)
	assert.True(t, entry.Recorded)
	assert.InDelta(t, 1.0, entry.Confidence, 1e-9)
	assert.Equal(t, s.ID(), entry.SessionID)

	checkIns, _ := h.sink.snapshot()
	require.NotEmpty(t, checkIns)
	assert.Equal(t, int64(1), checkIns[0].EmployeeID)

	st := s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, "usb", st.Device, "the non-default device is preferred")
	assert.Equal(t, 1, st.GallerySize)
	require.NotNil(t, st.LastOverlay)
	assert.Equal(t, OverlayIdentified, st.LastOverlay.Kind)
	assert.True(t, h.stream.closed.Load())

	var sawIdentified, sawCheckIn bool
	for ev := range events {
		switch ev.Type {
		case EventOverlay:
			if ev.Overlay.Kind == OverlayIdentified {
				sawIdentified = true
				assert.Equal(t, "Alice (100.0%)", ev.Overlay.Label)
				assert.Equal(t, ColorIdentified, ev.Overlay.Color)
			}
		case EventCheckIn:
			sawCheckIn = true
		}
	}
	assert.True(t, sawIdentified)
	assert.True(t, sawCheckIn)
}

func TestSession_Overlays(t *testing.T) {
	tests := []struct {
		name   string
		detect func() (*facematch.Detection, error)
		kind   OverlayKind
		reason string
	}{
		{
			name:   "no face clears",
			detect: func() (*facematch.Detection, error) { return nil, nil },
			kind:   OverlayCleared,
		},
		{
			name: "small face rejected",
			detect: func() (*facematch.Detection, error) {
				d := goodDetection(aliceDescriptor)
				d.Box.Width = 50
				return d, nil
			},
			kind:   OverlayRejected,
			reason: facematch.ReasonTooSmall,
		},
		{
			name: "stranger is unknown",
			detect: func() (*facematch.Detection, error) {
				return goodDetection([]float32{0.9, -0.9, 0.9}), nil
			},
			kind: OverlayUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.setDetect(tt.detect)
			s := NewSession(h.config())
			require.NoError(t, s.Start(context.Background()))

			require.Eventually(t, func() bool {
				o := s.Status().LastOverlay
				return o != nil && o.Kind == tt.kind
			}, 2*time.Second, 5*time.Millisecond)
			s.Stop()

			o := s.Status().LastOverlay
			assert.Equal(t, tt.reason, o.Reason)
			if tt.kind == OverlayUnknown {
				assert.Equal(t, UnknownPersonLabel, o.Label)
				assert.Equal(t, ColorUnknown, o.Color)
			}
			assert.Zero(t, h.recorder.Calls())
		})
	}
}

func TestSession_DropsTicksWhileCommitting(t *testing.T) {
	h := newHarness(t)
	h.recorder.block = make(chan struct{})
	h.engine.setDetect(func() (*facematch.Detection, error) {
		return goodDetection(aliceDescriptor), nil
	})

	s := NewSession(h.config())
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return s.Status().DroppedTicks >= 5 }, 2*time.Second, 5*time.Millisecond)
	framesWhileBusy := h.stream.frames.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, framesWhileBusy, h.stream.frames.Load(), "no frames are grabbed while a commit is in flight")

	close(h.recorder.block)
	s.Stop()

	assert.Equal(t, int32(1), h.recorder.maxCall.Load(), "commits never overlap")
}

func TestSession_CommitTimeoutDegrades(t *testing.T) {
	h := newHarness(t)
	h.recorder.block = make(chan struct{})
	defer close(h.recorder.block)
	h.engine.setDetect(func() (*facematch.Detection, error) {
		return goodDetection(aliceDescriptor), nil
	})

	cfg := h.config()
	cfg.CommitTimeout = 20 * time.Millisecond
	s := NewSession(cfg)
	events := s.Subscribe()
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, s.Degraded, 2*time.Second, 5*time.Millisecond)
	st := s.Status()
	assert.True(t, st.Degraded)
	assert.Contains(t, st.Error, context.DeadlineExceeded.Error())
	assert.Empty(t, s.Log(), "a failed commit is not logged")

	s.Stop()

	var sawDegraded bool
	for ev := range events {
		if ev.Type == EventDegraded && ev.Degraded != nil && *ev.Degraded {
			sawDegraded = true
		}
	}
	assert.True(t, sawDegraded)
}

func TestSession_RecoversFromStoreError(t *testing.T) {
	h := newHarness(t)
	h.recorder.setErr(errors.New("connection refused"))
	h.engine.setDetect(func() (*facematch.Detection, error) {
		return goodDetection(aliceDescriptor), nil
	})

	s := NewSession(h.config())
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, s.Degraded, 2*time.Second, 5*time.Millisecond)

	h.recorder.setErr(nil)
	require.Eventually(t, func() bool { return !s.Degraded() && len(s.Log()) > 0 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	_, degraded := h.sink.snapshot()
	require.GreaterOrEqual(t, len(degraded), 2)
	assert.True(t, degraded[0])
	assert.False(t, degraded[1])
}

func TestSession_InitializationFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"engine not ready", func(h *harness) { h.engine.readyErr = errors.New("models not loaded") }},
		{"no camera", func(h *harness) { h.devices = nil }},
		{"camera denied", func(h *harness) {
			h.devices = camera.StaticLister{&fakeDevice{label: "cam", openErr: errors.New("permission denied")}}
		}},
		{"roster unavailable", func(h *harness) { h.gallery.err = errors.New("connection refused") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			s := NewSession(h.config())
			err := s.Start(context.Background())
			require.Error(t, err)
			assert.Equal(t, StateStopped, s.State())
			assert.NotEmpty(t, s.Status().Error)

			select {
			case <-s.Done():
			default:
				t.Fatal("failed session must be done")
			}
			s.Stop()
			assert.Zero(t, h.stream.frames.Load())
		})
	}
}

func TestSession_GalleryFailureReleasesCamera(t *testing.T) {
	h := newHarness(t)
	h.gallery.err = errors.New("connection refused")

	s := NewSession(h.config())
	require.Error(t, s.Start(context.Background()))
	assert.True(t, h.stream.closed.Load())
}

func TestSession_StartTwice(t *testing.T) {
	h := newHarness(t)
	s := NewSession(h.config())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	s := NewSession(h.config())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateRunning }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.True(t, h.stream.closed.Load())
}

func TestSession_StopIdle(t *testing.T) {
	s := NewSession(newHarness(t).config())
	s.Stop()
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_LogLimit(t *testing.T) {
	h := newHarness(t)
	h.engine.setDetect(func() (*facematch.Detection, error) {
		return goodDetection(aliceDescriptor), nil
	})
	cfg := h.config()
	cfg.LogLimit = 2
	cfg.CommitCooldown = -1
	s := NewSession(cfg)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return h.recorder.Calls() >= 4 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	log := s.Log()
	require.Len(t, log, 2)
	assert.False(t, log[0].Recorded, "the first check-in was trimmed")
	assert.False(t, log[1].Recorded)
}

func TestSession_LateThresholdFromSnapshot(t *testing.T) {
	h := newHarness(t)
	h.tunables.LateThresholdHour = 23
	h.tunables.LateThresholdMinute = 59
	live := settings.NewStaticStore(h.tunables)

	store := mock.NewMockStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	recorder := attendance.NewRecorder(store, time.UTC, live).WithClock(func() time.Time { return now })

	cfg := h.config()
	cfg.Tunables = live
	cfg.Recorder = recorder
	s := NewSession(cfg)
	require.NoError(t, s.Start(context.Background()))

	updated := settings.Defaults()
	updated.LateThresholdHour = 8
	updated.LateThresholdMinute = 0
	require.NoError(t, live.Update(updated))

	h.engine.setDetect(func() (*facematch.Detection, error) {
		return goodDetection(aliceDescriptor), nil
	})
	require.Eventually(t, func() bool { return len(s.Log()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	entry := s.Log()[0]
	require.True(t, entry.Recorded)
	assert.Equal(t, string(database.StatusPresent), entry.Status, "10:00 is before the 23:59 threshold the session started with")
	assert.Empty(t, entry.Lateness)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, database.StatusPresent, records[0].Status)
	assert.Zero(t, records[0].LatenessMinutes)

	st := s.Status()
	require.NotNil(t, st.Tunables)
	assert.Equal(t, 23, st.Tunables.LateThresholdHour)
}

func TestNewSession_CommitCooldown(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		in, want time.Duration
	}{
		{0, 0},
		{-time.Second, 0},
		{250 * time.Millisecond, 250 * time.Millisecond},
	} {
		cfg := h.config()
		cfg.CommitCooldown = tc.in
		assert.Equal(t, tc.want, NewSession(cfg).cfg.CommitCooldown, "cooldown %v", tc.in)
	}
}

func TestManager(t *testing.T) {
	h := newHarness(t)
	m := NewManager(h.config())

	_, err := m.Stop()
	assert.ErrorIs(t, err, ErrNoSession)

	s, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, m.Current())

	again, err := m.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionRunning)
	assert.Same(t, s, again)

	stopped, err := m.Stop()
	require.NoError(t, err)
	assert.Same(t, s, stopped)
	assert.Equal(t, StateStopped, s.State())

	_, err = m.Stop()
	assert.ErrorIs(t, err, ErrNoSession)

	next, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), next.ID())
	m.Shutdown()
	assert.Equal(t, StateStopped, next.State())
}

func TestManager_FailedStartAllowsRetry(t *testing.T) {
	h := newHarness(t)
	h.engine.readyErr = errors.New("models not loaded")
	m := NewManager(h.config())

	s, err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, s.State())

	h.engine.readyErr = nil
	_, err = m.Start(context.Background())
	require.NoError(t, err)
	m.Shutdown()
}

func TestBroadcaster(t *testing.T) {
	var b broadcaster
	ch := b.Subscribe()
	other := b.Subscribe()
	b.Unsubscribe(other)

	b.send(Event{Type: EventState, State: StateRunning})
	ev := <-ch
	assert.Equal(t, StateRunning, ev.State)

	for range constants.EventChannelBuffer + 10 {
		b.send(Event{Type: EventOverlay})
	}
	assert.Len(t, ch, constants.EventChannelBuffer, "a full listener drops events instead of blocking")

	b.close()
	for range ch {
	}
	late := b.Subscribe()
	_, ok := <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	b.Unsubscribe(ch)
}
