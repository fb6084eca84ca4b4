// Package gallery builds the in-memory descriptor gallery from the roster
// and the reference images.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Detector finds the best face in an image.
type Detector interface {
	Detect(ctx context.Context, imageData []byte, minScore float64) (*facematch.Detection, error)
}

// SkippedEmployee is a roster entry that produced no descriptor.
type SkippedEmployee struct {
	EmployeeID int64  `json:"employee_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// Report summarizes a build.
type Report struct {
	Loaded      int               `json:"loaded"`
	Descriptors int               `json:"descriptors"`
	Precomputed int               `json:"precomputed"`
	Computed    int               `json:"computed"`
	Skipped     []SkippedEmployee `json:"skipped,omitempty"`
}

// Builder turns the roster into a gallery.
type Builder struct {
	roster        database.EmployeeReader
	images        ImageStore
	detector      Detector
	minConfidence float64
	concurrency   int

	// OnProgress, when set, is called once per processed employee.
	OnProgress func()
}

// NewBuilder creates a builder. images and detector may be nil when every
// employee has precomputed descriptors.
func NewBuilder(roster database.EmployeeReader, images ImageStore, detector Detector, minConfidence float64) *Builder {
	return &Builder{
		roster:        roster,
		images:        images,
		detector:      detector,
		minConfidence: minConfidence,
		concurrency:   constants.DefaultConcurrency,
	}
}

// WithConcurrency sets how many employees are processed in parallel.
func (b *Builder) WithConcurrency(n int) *Builder {
	if n > 0 {
		b.concurrency = n
	}
	return b
}

// Roster returns the employees a build would consider.
func (b *Builder) Roster(ctx context.Context) ([]database.Employee, error) {
	employees, err := b.roster.ListRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return employees, nil
}

type buildResult struct {
	descriptors [][]float32
	computed    bool
	skipReason  string
}

// Build loads the roster and resolves descriptors for every employee.
// Only a roster read failure is an error; employees without a usable face
// are skipped and listed in the report.
func (b *Builder) Build(ctx context.Context) (*facematch.Gallery, Report, error) {
	employees, err := b.Roster(ctx)
	if err != nil {
		return nil, Report{}, err
	}

	keys := b.listKeys(ctx, employees)

	results := make([]buildResult, len(employees))
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for i := range employees {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = b.resolve(ctx, employees[i], keys)
			b.progress()
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}

	var report Report
	identities := make([]facematch.Identity, 0, len(employees))
	for i, e := range employees {
		r := results[i]
		if len(r.descriptors) == 0 {
			slog.Warn("employee skipped, no usable face", "employee_id", e.ID, "name", e.Name, "reason", r.skipReason)
			report.Skipped = append(report.Skipped, SkippedEmployee{EmployeeID: e.ID, Name: e.Name, Reason: r.skipReason})
			continue
		}
		if r.computed {
			report.Computed++
		} else {
			report.Precomputed++
		}
		report.Loaded++
		report.Descriptors += len(r.descriptors)
		identities = append(identities, facematch.Identity{
			EmployeeID:  e.ID,
			Name:        e.Name,
			Descriptors: r.descriptors,
		})
	}

	g := facematch.NewGallery(identities)
	slog.Info("gallery built", "employees", report.Loaded, "descriptors", report.Descriptors, "skipped", len(report.Skipped))
	return g, report, nil
}

// listKeys lists the reference store only when some employee needs
// descriptors computed. A listing failure degrades to avatars only.
func (b *Builder) listKeys(ctx context.Context, employees []database.Employee) []string {
	if b.images == nil {
		return nil
	}
	needed := false
	for _, e := range employees {
		if len(e.Descriptors) == 0 {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}
	keys, err := b.images.List(ctx)
	if err != nil {
		slog.Warn("failed to list reference images, using avatars only", "error", err)
		return nil
	}
	return keys
}

func (b *Builder) resolve(ctx context.Context, e database.Employee, keys []string) buildResult {
	if len(e.Descriptors) > 0 {
		out := make([][]float32, 0, len(e.Descriptors))
		for _, d := range e.Descriptors {
			if len(d.Embedding) > 0 {
				out = append(out, d.Embedding)
			}
		}
		if len(out) > 0 {
			return buildResult{descriptors: out}
		}
	}

	computed, reason := b.compute(ctx, e, keys)
	descriptors := make([][]float32, len(computed))
	for i, d := range computed {
		descriptors[i] = d.Embedding
	}
	return buildResult{descriptors: descriptors, computed: true, skipReason: reason}
}

// ReferenceKeys returns the avatar key followed by every other key whose
// file name contains the employee's normalized name.
func ReferenceKeys(e database.Employee, keys []string) []string {
	var out []string
	if e.AvatarPath != "" {
		out = append(out, e.AvatarPath)
	}
	for _, k := range keys {
		if k != e.AvatarPath && facematch.ReferenceKeyMatches(k, e.Name) {
			out = append(out, k)
		}
	}
	return out
}

// compute runs the detector over the employee's reference images. The
// returned reason explains an empty result.
func (b *Builder) compute(ctx context.Context, e database.Employee, keys []string) ([]database.StoredDescriptor, string) {
	if b.images == nil || b.detector == nil {
		return nil, "no reference image store"
	}

	refs := ReferenceKeys(e, keys)
	if len(refs) == 0 {
		return nil, "no reference images"
	}

	var out []database.StoredDescriptor
	var lastErr error
	for _, key := range refs {
		if ctx.Err() != nil {
			return nil, ctx.Err().Error()
		}
		data, err := b.images.Fetch(ctx, key)
		if err != nil {
			slog.Warn("failed to fetch reference image", "employee_id", e.ID, "key", key, "error", err)
			lastErr = err
			continue
		}
		det, err := b.detector.Detect(ctx, data, b.minConfidence)
		if err != nil {
			slog.Warn("face detection failed", "employee_id", e.ID, "key", key, "error", err)
			lastErr = err
			continue
		}
		if det == nil || len(det.Embedding) == 0 {
			slog.Debug("no face in reference image", "employee_id", e.ID, "key", key)
			continue
		}
		out = append(out, database.StoredDescriptor{
			EmployeeID: e.ID,
			Source:     key,
			Embedding:  det.Embedding,
		})
	}

	if len(out) > 0 {
		return out, ""
	}
	if lastErr != nil && !errors.Is(lastErr, ErrImageNotFound) {
		return nil, lastErr.Error()
	}
	return nil, "no face detected in reference images"
}
