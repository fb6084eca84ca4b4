package gallery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EnrollReport summarizes an enrollment run.
type EnrollReport struct {
	Enrolled    int               `json:"enrolled"`
	Descriptors int               `json:"descriptors"`
	Unchanged   int               `json:"unchanged"`
	Skipped     []SkippedEmployee `json:"skipped,omitempty"`
}

// Enroll computes descriptors from reference images and stores them as
// precomputed descriptors, so later builds skip the face engine. Employees
// that already have descriptors are left alone unless force is set.
// Employees are processed one at a time; a store error aborts the run.
func (b *Builder) Enroll(ctx context.Context, store database.DescriptorWriter, force bool) (EnrollReport, error) {
	employees, err := b.Roster(ctx)
	if err != nil {
		return EnrollReport{}, err
	}

	var keys []string
	if b.images != nil {
		if keys, err = b.images.List(ctx); err != nil {
			slog.Warn("failed to list reference images, using avatars only", "error", err)
		}
	}

	var report EnrollReport
	for _, e := range employees {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if len(e.Descriptors) > 0 && !force {
			report.Unchanged++
			b.progress()
			continue
		}

		descriptors, reason := b.compute(ctx, e, keys)
		if len(descriptors) == 0 {
			slog.Warn("employee not enrolled", "employee_id", e.ID, "name", e.Name, "reason", reason)
			report.Skipped = append(report.Skipped, SkippedEmployee{EmployeeID: e.ID, Name: e.Name, Reason: reason})
			b.progress()
			continue
		}

		if err := store.SaveDescriptors(ctx, e.ID, descriptors); err != nil {
			return report, fmt.Errorf("save descriptors for employee %d: %w", e.ID, err)
		}
		report.Enrolled++
		report.Descriptors += len(descriptors)
		b.progress()
	}
	return report, nil
}

func (b *Builder) progress() {
	if b.OnProgress != nil {
		b.OnProgress()
	}
}
