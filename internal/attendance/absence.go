package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// AbsenceStore is what the absence marker needs from the database.
type AbsenceStore interface {
	database.EmployeeReader
	database.AttendanceWriter
}

// AbsenceMarker closes a day by giving every employee without a check-in
// an absent record.
type AbsenceMarker struct {
	store AbsenceStore
	loc   *time.Location
}

// NewAbsenceMarker creates a marker computing days in loc.
func NewAbsenceMarker(store AbsenceStore, loc *time.Location) *AbsenceMarker {
	if loc == nil {
		loc = time.Local
	}
	return &AbsenceMarker{store: store, loc: loc}
}

// MarkDay inserts an absent record for each employee with no record on the
// day containing day. It returns how many records were inserted. Records
// created concurrently by check-ins win over absences.
func (m *AbsenceMarker) MarkDay(ctx context.Context, day time.Time) (int, error) {
	from, to := DayBounds(day, m.loc)
	dayStr := from.Format(database.DayLayout)

	employees, err := m.store.ListEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("load employees: %w", err)
	}
	records, err := m.store.ListAttendance(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list attendance: %w", err)
	}

	seen := make(map[int64]bool, len(records))
	for _, rec := range records {
		seen[rec.EmployeeID] = true
	}

	// Stamped one second before midnight so the record falls in the day.
	stamp := to.Add(-time.Second)
	marked := 0
	for _, e := range employees {
		if seen[e.ID] {
			continue
		}
		inserted, err := m.store.InsertAttendance(ctx, &database.AttendanceRecord{
			EmployeeID: e.ID,
			CheckedAt:  stamp,
			Day:        dayStr,
			Status:     database.StatusAbsent,
			Source:     database.SourceSystem,
		})
		if err != nil {
			return marked, fmt.Errorf("mark employee %d absent: %w", e.ID, err)
		}
		if inserted {
			marked++
		}
	}

	slog.Info("absences marked", "day", dayStr, "count", marked)
	return marked, nil
}

// Scheduler runs MarkDay once a day.
type Scheduler struct {
	scheduler *gocron.Scheduler
}

// Schedule starts marking absences every day at "HH:MM" in the marker's
// location.
func (m *AbsenceMarker) Schedule(at string) (*Scheduler, error) {
	s := gocron.NewScheduler(m.loc)
	s.SingletonModeAll()

	_, err := s.Every(1).Day().At(at).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := m.MarkDay(ctx, time.Now()); err != nil {
			slog.Error("failed to mark absences", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule absence marking at %q: %w", at, err)
	}

	s.StartAsync()
	slog.Info("absence marking scheduled", "at", at, "location", m.loc.String())
	return &Scheduler{scheduler: s}, nil
}

// Stop stops the schedule and waits for a running job.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
