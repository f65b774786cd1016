package database

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateRoll is returned when a roll number is already taken by another student.
	ErrDuplicateRoll = errors.New("roll number already exists")
	// ErrStudentNotFound is returned when a student ID does not exist.
	ErrStudentNotFound = errors.New("student not found")
	// ErrEncodingNotFound is returned when no encoding is stored for a roll.
	ErrEncodingNotFound = errors.New("encoding not found")
	// ErrEncodingCorrupt is returned when a stored encoding cannot be decoded.
	ErrEncodingCorrupt = errors.New("encoding corrupt")
	// ErrRecordNotFound is returned when an attendance record to update no longer exists.
	ErrRecordNotFound = errors.New("attendance record not found")
)

// Student is an enrolled student's identity record.
type Student struct {
	ID        int64
	Name      string
	Roll      string // stable external key, unique
	Class     string
	PhotoPath string
	CreatedAt time.Time
}

// StoredEncoding is a face template stored for one roll number.
type StoredEncoding struct {
	Roll      string
	Encoding  []float32
	Dim       int
	UpdatedAt time.Time
}

// AttendanceStatus is the status of one (roll, date) cell of the ledger.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "Present"
	StatusAbsent  AttendanceStatus = "Absent"
)

// Ledger date and time layouts.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// AttendanceRecord is one row of the daily attendance ledger.
type AttendanceRecord struct {
	ID      int64
	Roll    string
	Name    string
	Class   string
	Date    string // YYYY-MM-DD
	Time    string // HH:MM:SS
	Teacher string // who marked the student present
	Status  AttendanceStatus
}

// AttendanceFilter narrows ListRecords. Empty fields are ignored.
type AttendanceFilter struct {
	Date  string
	From  string
	To    string
	Roll  string
	Class string
}

// RosterEntry is a student row read from an external school information system.
type RosterEntry struct {
	Name  string
	Roll  string
	Class string
}
