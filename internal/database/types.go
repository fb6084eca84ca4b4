package database

import (
	"time"
)

// Employee is a roster entry with the descriptors stored for it.
type Employee struct {
	ID          int64
	Name        string
	AvatarPath  string // key in the reference image store, empty if none
	Descriptors []StoredDescriptor
}

// StoredDescriptor is a precomputed face descriptor.
type StoredDescriptor struct {
	ID         int64
	EmployeeID int64
	Source     string // reference image key it was computed from
	Embedding  []float32
	CreatedAt  time.Time
}

// AttendanceStatus is the check-in outcome of a day.
type AttendanceStatus string

// AttendanceStatus values.
const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
)

// Record sources.
const (
	SourceFace   = "face"
	SourceSystem = "system"
)

// DayLayout is the format of AttendanceRecord.Day.
const DayLayout = "2006-01-02"

// AttendanceRecord is one employee's attendance on one day. At most one
// exists per (EmployeeID, Day).
type AttendanceRecord struct {
	ID              int64            `json:"id"`
	EmployeeID      int64            `json:"employee_id"`
	EmployeeName    string           `json:"employee_name,omitempty"` // filled by list queries
	CheckedAt       time.Time        `json:"checked_at"`
	Day             string           `json:"day"`
	Status          AttendanceStatus `json:"status"`
	Lateness        string           `json:"lateness,omitempty"`
	LatenessMinutes int              `json:"lateness_minutes"`
	Confidence      float64          `json:"confidence"`
	Source          string           `json:"source"`
}
