package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true, ".gif": true,
}

// ReplayDevice plays the images of a directory in name order, looping.
// Used for demos and for running the loop without a camera.
type ReplayDevice struct {
	dir string
}

// NewReplayDevice creates a replay device for dir.
func NewReplayDevice(dir string) *ReplayDevice {
	return &ReplayDevice{dir: dir}
}

// ID implements Device.
func (d *ReplayDevice) ID() string { return "replay:" + d.dir }

// Label implements Device.
func (d *ReplayDevice) Label() string { return "replay " + filepath.Base(d.dir) }

// Open lists the directory. It fails when there are no images.
func (d *ReplayDevice) Open(_ context.Context, hints Hints) (Stream, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read replay directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(d.dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", d.dir)
	}
	sort.Strings(files)

	return &replayStream{files: files, hints: hints}, nil
}

type replayStream struct {
	files []string
	hints Hints

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *replayStream) Frame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, errors.New("stream closed")
	}
	file := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(file)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}
	out, info, err := Analyze(data, s.hints.Width, s.hints.Height)
	if err != nil {
		return Frame{}, fmt.Errorf("frame %s: %w", filepath.Base(file), err)
	}
	return Frame{Data: out, Info: info, CapturedAt: time.Now()}, nil
}

func (s *replayStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
