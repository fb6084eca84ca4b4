// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockStore is an in-memory implementation of database.Store. Like the SQL
// backends it keeps at most one attendance record per employee and day.
type MockStore struct {
	mu         sync.RWMutex
	employees  map[int64]*database.Employee
	attendance []database.AttendanceRecord
	nextID     int64
	closed     bool

	// Error injection
	ListRosterError      error
	ListEmployeesError   error
	SaveDescriptorsError error
	FindError            error
	ListAttendanceError  error
	InsertError          error
	PingError            error

	// InsertDelay is slept inside InsertAttendance before the uniqueness
	// check, to widen race windows in tests.
	InsertDelay time.Duration

	findCalls   int
	insertCalls int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		employees: make(map[int64]*database.Employee),
	}
}

// AddEmployee adds or replaces an employee
func (m *MockStore) AddEmployee(e database.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = &e
}

// AddAttendance stores a record as is, bypassing the uniqueness check
func (m *MockStore) AddAttendance(rec database.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if rec.ID == 0 {
		rec.ID = m.nextID
	}
	m.attendance = append(m.attendance, rec)
}

// Records returns a copy of all attendance records
func (m *MockStore) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.attendance)
}

// FindCalls returns how many times FindAttendance was called
func (m *MockStore) FindCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findCalls
}

// InsertCalls returns how many times InsertAttendance was called
func (m *MockStore) InsertCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.insertCalls
}

// Closed reports whether Close was called
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MockStore) sortedEmployees() []database.Employee {
	out := make([]database.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b database.Employee) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// ListRoster returns employees with an avatar or descriptors
func (m *MockStore) ListRoster(ctx context.Context) ([]database.Employee, error) {
	if m.ListRosterError != nil {
		return nil, m.ListRosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Employee
	for _, e := range m.sortedEmployees() {
		if e.AvatarPath != "" || len(e.Descriptors) > 0 {
			e.Descriptors = slices.Clone(e.Descriptors)
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEmployees returns all employees without descriptors
func (m *MockStore) ListEmployees(ctx context.Context) ([]database.Employee, error) {
	if m.ListEmployeesError != nil {
		return nil, m.ListEmployeesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sortedEmployees()
	for i := range out {
		out[i].Descriptors = nil
	}
	return out, nil
}

// SaveDescriptors replaces the descriptors of an employee
func (m *MockStore) SaveDescriptors(ctx context.Context, employeeID int64, descriptors []database.StoredDescriptor) error {
	if m.SaveDescriptorsError != nil {
		return m.SaveDescriptorsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[employeeID]
	if !ok {
		return fmt.Errorf("employee %d not found", employeeID)
	}
	e.Descriptors = make([]database.StoredDescriptor, len(descriptors))
	for i, d := range descriptors {
		d.EmployeeID = employeeID
		e.Descriptors[i] = d
	}
	return nil
}

// FindAttendance returns the employee's first record in [from, to)
func (m *MockStore) FindAttendance(ctx context.Context, employeeID int64, from, to time.Time) (*database.AttendanceRecord, error) {
	m.mu.Lock()
	m.findCalls++
	m.mu.Unlock()
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *database.AttendanceRecord
	for i := range m.attendance {
		rec := m.attendance[i]
		if rec.EmployeeID != employeeID || rec.CheckedAt.Before(from) || !rec.CheckedAt.Before(to) {
			continue
		}
		if found == nil || rec.CheckedAt.Before(found.CheckedAt) {
			found = &rec
		}
	}
	return found, nil
}

// ListAttendance returns records in [from, to), oldest first
func (m *MockStore) ListAttendance(ctx context.Context, from, to time.Time) ([]database.AttendanceRecord, error) {
	if m.ListAttendanceError != nil {
		return nil, m.ListAttendanceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, rec := range m.attendance {
		if rec.CheckedAt.Before(from) || !rec.CheckedAt.Before(to) {
			continue
		}
		if e, ok := m.employees[rec.EmployeeID]; ok {
			rec.EmployeeName = e.Name
		}
		out = append(out, rec)
	}
	slices.SortStableFunc(out, func(a, b database.AttendanceRecord) int {
		return a.CheckedAt.Compare(b.CheckedAt)
	})
	return out, nil
}

// InsertAttendance stores rec unless (EmployeeID, Day) already exists
func (m *MockStore) InsertAttendance(ctx context.Context, rec *database.AttendanceRecord) (bool, error) {
	m.mu.Lock()
	m.insertCalls++
	m.mu.Unlock()
	if m.InsertError != nil {
		return false, m.InsertError
	}
	if m.InsertDelay > 0 {
		select {
		case <-time.After(m.InsertDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attendance {
		if existing.EmployeeID == rec.EmployeeID && existing.Day == rec.Day {
			return false, nil
		}
	}
	m.nextID++
	rec.ID = m.nextID
	m.attendance = append(m.attendance, *rec)
	return true, nil
}

// Ping returns PingError
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingError
}

// Close marks the store closed
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
