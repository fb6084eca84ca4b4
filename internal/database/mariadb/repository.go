package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// errDuplicateEntry is ER_DUP_ENTRY.
const errDuplicateEntry = 1062

// ListEmployees returns every employee ordered by ID.
func (b *Backend) ListEmployees(ctx context.Context) ([]database.Employee, error) {
	return b.queryEmployees(ctx, `
		SELECT id, name, COALESCE(avatar_path, '') FROM employees ORDER BY id
	`)
}

// ListRoster returns employees with an avatar or stored descriptors.
func (b *Backend) ListRoster(ctx context.Context) ([]database.Employee, error) {
	employees, err := b.queryEmployees(ctx, `
		SELECT e.id, e.name, COALESCE(e.avatar_path, '')
		FROM employees e
		WHERE COALESCE(e.avatar_path, '') <> ''
		   OR EXISTS (SELECT 1 FROM face_descriptors d WHERE d.employee_id = e.id)
		ORDER BY e.id
	`)
	if err != nil {
		return nil, err
	}

	index := make(map[int64]int, len(employees))
	for i, e := range employees {
		index[e.ID] = i
	}

	rows, err := b.pool.db.QueryContext(ctx, `
		SELECT id, employee_id, source, embedding, created_at
		FROM face_descriptors ORDER BY employee_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d database.StoredDescriptor
		var raw []byte
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.Source, &raw, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		if err := json.Unmarshal(raw, &d.Embedding); err != nil {
			return nil, fmt.Errorf("decode descriptor %d: %w", d.ID, err)
		}
		if i, ok := index[d.EmployeeID]; ok {
			employees[i].Descriptors = append(employees[i].Descriptors, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return employees, nil
}

func (b *Backend) queryEmployees(ctx context.Context, query string) ([]database.Employee, error) {
	rows, err := b.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []database.Employee
	for rows.Next() {
		var e database.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.AvatarPath); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// SaveDescriptors replaces all descriptors of an employee.
func (b *Backend) SaveDescriptors(ctx context.Context, employeeID int64, descriptors []database.StoredDescriptor) error {
	tx, err := b.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_descriptors WHERE employee_id = ?", employeeID); err != nil {
		return fmt.Errorf("delete descriptors: %w", err)
	}
	for _, d := range descriptors {
		raw, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("encode descriptor %s: %w", d.Source, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO face_descriptors (employee_id, source, embedding) VALUES (?, ?, ?)",
			employeeID, d.Source, raw); err != nil {
			return fmt.Errorf("insert descriptor %s: %w", d.Source, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit descriptors: %w", err)
	}
	return nil
}

const attendanceSelect = `
	SELECT a.id, a.employee_id, COALESCE(e.name, ''), a.checked_at, DATE_FORMAT(a.day, '%Y-%m-%d'),
	       a.status, COALESCE(a.lateness, ''), a.lateness_minutes, a.confidence, a.source
	FROM attendance a
	LEFT JOIN employees e ON e.id = a.employee_id
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
func (b *Backend) FindAttendance(ctx context.Context, employeeID int64, from, to time.Time) (*database.AttendanceRecord, error) {
	row := b.pool.db.QueryRowContext(ctx, attendanceSelect+`
		WHERE a.employee_id = ? AND a.checked_at >= ? AND a.checked_at < ?
		ORDER BY a.checked_at LIMIT 1
	`, employeeID, from.UTC(), to.UTC())

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
func (b *Backend) ListAttendance(ctx context.Context, from, to time.Time) ([]database.AttendanceRecord, error) {
	rows, err := b.pool.db.QueryContext(ctx, attendanceSelect+`
		WHERE a.checked_at >= ? AND a.checked_at < ?
		ORDER BY a.checked_at, a.id
	`, from.UTC(), to.UTC())
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

// InsertAttendance inserts rec; a duplicate (employee_id, day) yields false.
func (b *Backend) InsertAttendance(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	var lateness sql.NullString
	if rec.Lateness != "" {
		lateness = sql.NullString{String: rec.Lateness, Valid: true}
	}

	res, err := b.pool.db.ExecContext(ctx, `
		INSERT INTO attendance (employee_id, checked_at, day, status, lateness, lateness_minutes, confidence, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EmployeeID, rec.CheckedAt.UTC(), rec.Day, string(rec.Status), lateness,
		rec.LatenessMinutes, rec.Confidence, rec.Source)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert attendance: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return true, fmt.Errorf("read attendance id: %w", err)
	}
	rec.ID = id
	return true, nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
