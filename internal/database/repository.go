package database

import (
	"context"
	"time"
)

// EmployeeReader provides read-only access to the roster
type EmployeeReader interface {
	// ListRoster returns employees with an avatar or at least one stored
	// descriptor, ordered by ID, with descriptors loaded
	ListRoster(ctx context.Context) ([]Employee, error)
	// ListEmployees returns every employee ordered by ID, without descriptors
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// DescriptorWriter stores precomputed descriptors
type DescriptorWriter interface {
	// SaveDescriptors replaces all descriptors of an employee
	SaveDescriptors(ctx context.Context, employeeID int64, descriptors []StoredDescriptor) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// FindAttendance returns the employee's record checked in within
	// [from, to), or nil if there is none
	FindAttendance(ctx context.Context, employeeID int64, from, to time.Time) (*AttendanceRecord, error)
	// ListAttendance returns all records checked in within [from, to), oldest first
	ListAttendance(ctx context.Context, from, to time.Time) ([]AttendanceRecord, error)
}

// AttendanceWriter adds attendance records
type AttendanceWriter interface {
	AttendanceReader

	// InsertAttendance stores rec and sets its ID. It returns false without
	// error when a record for the same employee and day already exists.
	InsertAttendance(ctx context.Context, rec *AttendanceRecord) (bool, error)
}

// Store is a complete backend.
type Store interface {
	EmployeeReader
	DescriptorWriter
	AttendanceWriter

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
	// Close releases the connection pool
	Close() error
}
