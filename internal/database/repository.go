package database

import (
	"context"
)

// StudentReader provides read-only access to the student directory
type StudentReader interface {
	// GetStudent retrieves a student by ID, returns nil if not found
	GetStudent(ctx context.Context, id int64) (*Student, error)
	// GetStudentByRoll retrieves a student by roll number, returns nil if not found
	GetStudentByRoll(ctx context.Context, roll string) (*Student, error)
	// ListStudents returns all students in enrollment order
	ListStudents(ctx context.Context) ([]Student, error)
	// CountStudents returns the number of enrolled students
	CountStudents(ctx context.Context) (int, error)
}

// StudentWriter provides write access to the student directory
type StudentWriter interface {
	StudentReader

	// CreateStudent inserts a student and sets its ID. Returns ErrDuplicateRoll on conflict.
	CreateStudent(ctx context.Context, s *Student) error
	// UpdateStudent overwrites name, roll, class and photo path. Returns ErrDuplicateRoll on conflict.
	UpdateStudent(ctx context.Context, s *Student) error
	// DeleteStudent removes a student. Returns ErrStudentNotFound if the ID does not exist.
	DeleteStudent(ctx context.Context, id int64) error
}

// EncodingLoader loads stored face templates by roll number
type EncodingLoader interface {
	// LoadEncoding returns ErrEncodingNotFound or ErrEncodingCorrupt for unusable templates
	LoadEncoding(ctx context.Context, roll string) ([]float32, error)
}

// EncodingStore persists one face template per roll number
type EncodingStore interface {
	EncodingLoader

	// SaveEncoding creates or overwrites the template for a roll
	SaveEncoding(ctx context.Context, roll string, encoding []float32) error
	// RenameEncoding moves a template to a new roll. A missing source is not an error.
	RenameEncoding(ctx context.Context, oldRoll, newRoll string) error
	// DeleteEncoding removes a template. A missing roll is not an error.
	DeleteEncoding(ctx context.Context, roll string) error
	// ListEncodings returns all stored templates
	ListEncodings(ctx context.Context) ([]StoredEncoding, error)
}

// AttendanceLedger provides access to the daily attendance records
type AttendanceLedger interface {
	// ResetDate sets every record for the date to Absent and returns the number of rows touched
	ResetDate(ctx context.Context, date string) (int64, error)
	// ResetDateOnce resets the date unless it was already reset and records the reset in the
	// same transaction. It reports whether this call performed the reset.
	ResetDateOnce(ctx context.Context, date string) (int64, bool, error)
	// SeedAbsent inserts Absent rows for the given students that have no row for the date
	SeedAbsent(ctx context.Context, date string, students []Student) (int64, error)
	// GetRecord retrieves the record for a roll on a date, returns nil if not found
	GetRecord(ctx context.Context, roll, date string) (*AttendanceRecord, error)
	// MarkPresent sets status Present and refreshes the time of an existing record
	MarkPresent(ctx context.Context, roll, date, timeOfDay string) error
	// InsertRecord inserts a new record
	InsertRecord(ctx context.Context, rec *AttendanceRecord) error
	// ListRecords returns records ordered by date and time, newest first
	ListRecords(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}
