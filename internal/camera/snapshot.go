package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// maxSnapshotBytes bounds a single snapshot download.
const maxSnapshotBytes = 16 << 20

// SnapshotDevice is an IP camera exposing a still-image URL.
type SnapshotDevice struct {
	url    string
	label  string
	client *http.Client
}

// NewSnapshotDevice creates a device for a snapshot URL. A nil client uses
// one with a 5 second timeout.
func NewSnapshotDevice(url, label string, client *http.Client) *SnapshotDevice {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if label == "" {
		label = url
	}
	return &SnapshotDevice{url: url, label: label, client: client}
}

// ID implements Device.
func (d *SnapshotDevice) ID() string { return d.url }

// Label implements Device.
func (d *SnapshotDevice) Label() string { return d.label }

// Open fetches one snapshot to verify the camera is reachable.
func (d *SnapshotDevice) Open(ctx context.Context, hints Hints) (Stream, error) {
	s := &snapshotStream{device: d, hints: hints}
	if hints.FrameRate > 0 {
		s.minGap = time.Second / time.Duration(hints.FrameRate)
	}
	if _, err := s.Frame(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type snapshotStream struct {
	device *SnapshotDevice
	hints  Hints
	minGap time.Duration

	mu     sync.Mutex
	last   Frame
	closed bool
}

// Frame downloads a new snapshot, or returns the previous one when called
// faster than the frame-rate hint allows.
func (s *snapshotStream) Frame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Frame{}, errors.New("stream closed")
	}
	if s.minGap > 0 && !s.last.CapturedAt.IsZero() && time.Since(s.last.CapturedAt) < s.minGap {
		return s.last, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.device.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.device.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("camera error (status %d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	out, info, err := Analyze(data, s.hints.Width, s.hints.Height)
	if err != nil {
		return Frame{}, err
	}
	s.last = Frame{Data: out, Info: info, CapturedAt: time.Now()}
	return s.last, nil
}

// Close releases the stream. Further Frame calls fail.
func (s *snapshotStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.last = Frame{}
	return nil
}
