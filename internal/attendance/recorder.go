// Package attendance writes check-ins: at most one record per employee per
// calendar day, with lateness measured against the configured start of day.
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/settings"
	"github.com/patrickmn/go-cache"
)

// TunableSource provides the current late threshold.
type TunableSource interface {
	Get() settings.Tunables
}

// Threshold is the time of day after which a check-in is late.
type Threshold struct {
	Hour   int
	Minute int
}

// ThresholdOf returns the late threshold of t.
func ThresholdOf(t settings.Tunables) Threshold {
	return Threshold{Hour: t.LateThresholdHour, Minute: t.LateThresholdMinute}
}

// Outcome is the result of one Log call. Record is set when Recorded is
// true and, when available, for the existing record otherwise.
type Outcome struct {
	Recorded bool                       `json:"recorded"`
	Record   *database.AttendanceRecord `json:"record,omitempty"`
}

// Recorder logs attendance.
type Recorder struct {
	store    database.AttendanceWriter
	loc      *time.Location
	tunables TunableSource
	now      func() time.Time

	// logged remembers (employee, day) pairs known to have a record, so a
	// confirmed face that keeps standing in front of the camera does not
	// query the store on every commit.
	logged *cache.Cache
}

// NewRecorder creates a recorder computing days and lateness in loc.
func NewRecorder(store database.AttendanceWriter, loc *time.Location, tunables TunableSource) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{
		store:    store,
		loc:      loc,
		tunables: tunables,
		now:      time.Now,
		// No janitor goroutine; entries expire lazily on Get.
		logged: cache.New(24*time.Hour, 0),
	}
}

// WithClock replaces the time source, for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Location returns the location days are computed in.
func (r *Recorder) Location() *time.Location {
	return r.loc
}

// DayBounds returns [00:00, next 00:00) of the day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Lateness returns the whole minutes t is past hour:minute on t's day, or
// 0 at or before that time.
func Lateness(t time.Time, hour, minute int) int {
	threshold := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	if !t.After(threshold) {
		return 0
	}
	return int(t.Sub(threshold) / time.Minute)
}

// FormatLateness renders minutes the way the dashboard shows them.
func FormatLateness(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	return strconv.Itoa(minutes) + " minutes"
}

func cacheKey(employeeID int64, day string) string {
	return strconv.FormatInt(employeeID, 10) + "|" + day
}

// Log records a check-in for employeeID, judging lateness by the current
// tunables.
func (r *Recorder) Log(ctx context.Context, employeeID int64, confidence float64) (Outcome, error) {
	return r.LogWithThreshold(ctx, employeeID, confidence, ThresholdOf(r.tunables.Get()))
}

// LogWithThreshold records a check-in for employeeID unless one already
// exists today; lateness is measured against late. Concurrent calls for the
// same employee and day record at most once: the store's unique
// (employee, day) index rejects the loser, which then reports Recorded
// false.
func (r *Recorder) LogWithThreshold(ctx context.Context, employeeID int64, confidence float64, late Threshold) (Outcome, error) {
	now := r.now().In(r.loc)
	from, to := DayBounds(now, r.loc)
	day := from.Format(database.DayLayout)
	key := cacheKey(employeeID, day)

	if _, ok := r.logged.Get(key); ok {
		return Outcome{}, nil
	}

	existing, err := r.store.FindAttendance(ctx, employeeID, from, to)
	if err != nil {
		return Outcome{}, fmt.Errorf("check attendance for employee %d: %w", employeeID, err)
	}
	if existing != nil {
		r.remember(key, to)
		return Outcome{Record: existing}, nil
	}

	minutes := Lateness(now, late.Hour, late.Minute)
	status := database.StatusPresent
	if minutes > 0 {
		status = database.StatusLate
	}

	rec := &database.AttendanceRecord{
		EmployeeID:      employeeID,
		CheckedAt:       now,
		Day:             day,
		Status:          status,
		Lateness:        FormatLateness(minutes),
		LatenessMinutes: minutes,
		Confidence:      confidence,
		Source:          database.SourceFace,
	}

	inserted, err := r.store.InsertAttendance(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("record attendance for employee %d: %w", employeeID, err)
	}
	r.remember(key, to)
	if !inserted {
		slog.Debug("attendance already recorded by a concurrent check-in", "employee_id", employeeID, "day", day)
		return Outcome{}, nil
	}

	slog.Info("attendance recorded", "employee_id", employeeID, "status", status, "lateness_minutes", minutes)
	return Outcome{Recorded: true, Record: rec}, nil
}

// remember caches the pair until the end of its day.
func (r *Recorder) remember(key string, dayEnd time.Time) {
	ttl := dayEnd.Sub(r.now())
	if ttl <= 0 {
		return
	}
	r.logged.Set(key, struct{}{}, ttl)
}

// Today lists today's records, oldest first.
func (r *Recorder) Today(ctx context.Context) ([]database.AttendanceRecord, error) {
	from, to := DayBounds(r.now(), r.loc)
	return r.Range(ctx, from, to)
}

// Range lists the records in [from, to).
func (r *Recorder) Range(ctx context.Context, from, to time.Time) ([]database.AttendanceRecord, error) {
	records, err := r.store.ListAttendance(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
