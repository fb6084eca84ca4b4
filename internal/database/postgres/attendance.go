package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceRepository stores attendance records. The unique index on
// (employee_id, day) makes inserts idempotent per day.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `
	a.id, a.employee_id, COALESCE(e.name, ''), a.checked_at, to_char(a.day, 'YYYY-MM-DD'),
	a.status, COALESCE(a.lateness, ''), a.lateness_minutes, a.confidence, a.source
`

func scanAttendance(row interface{ Scan(...any) error }) (database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var status string
	err := row.Scan(&rec.ID, &rec.EmployeeID, &rec.EmployeeName, &rec.CheckedAt, &rec.Day,
		&status, &rec.Lateness, &rec.LatenessMinutes, &rec.Confidence, &rec.Source)
	rec.Status = database.AttendanceStatus(status)
	return rec, err
}

// FindAttendance returns the employee's first record in [from, to), or nil.
func (r *AttendanceRepository) FindAttendance(ctx context.Context, employeeID int64, from, to time.Time) (*database.AttendanceRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance a
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.employee_id = $1 AND a.checked_at >= $2 AND a.checked_at < $3
		ORDER BY a.checked_at
		LIMIT 1
	`, employeeID, from, to)

	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	return &rec, nil
}

// ListAttendance returns the records in [from, to), oldest first.
func (r *AttendanceRepository) ListAttendance(ctx context.Context, from, to time.Time) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance a
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.checked_at >= $1 AND a.checked_at < $2
		ORDER BY a.checked_at, a.id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}

// InsertAttendance inserts rec unless the employee already has a record
// for rec.Day.
func (r *AttendanceRepository) InsertAttendance(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	var lateness sql.NullString
	if rec.Lateness != "" {
		lateness = sql.NullString{String: rec.Lateness, Valid: true}
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance (employee_id, checked_at, day, status, lateness, lateness_minutes, confidence, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (employee_id, day) DO NOTHING
		RETURNING id
	`, rec.EmployeeID, rec.CheckedAt, rec.Day, string(rec.Status), lateness,
		rec.LatenessMinutes, rec.Confidence, rec.Source).Scan(&rec.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert attendance: %w", err)
	}
	return true, nil
}
