package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/detector"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// Outcome classifies a capture for the caller.
type Outcome string

const (
	// OutcomeComplete means every recognized student was recorded.
	OutcomeComplete Outcome = "complete"
	// OutcomePartial means some recognized students could not be recorded.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means students were recognized but none could be recorded.
	OutcomeFailed Outcome = "failed"
	// OutcomeNoMatch means no faces were found or none matched a student.
	OutcomeNoMatch Outcome = "no_match"
)

// Report is the result of one attendance capture.
type Report struct {
	Date     string
	Faces    int
	Matched  []facematch.FaceMatch
	Marked   []database.Student
	Skipped  map[string]error
	Failures map[string]error
	Reset    int64
	Outcome  Outcome
}

// Names returns the distinct names of students marked present.
func (r *Report) Names() []string {
	s := Summary{Marked: r.Marked}
	return s.Names()
}

// Service runs the capture pipeline: detect, match against the roster, reconcile the ledger.
type Service struct {
	detector   detector.Detector
	students   database.StudentReader
	encodings  database.EncodingLoader
	matcher    *facematch.Matcher
	reconciler *Reconciler
}

// NewService creates an attendance service
func NewService(
	d detector.Detector,
	students database.StudentReader,
	encodings database.EncodingLoader,
	matcher *facematch.Matcher,
	reconciler *Reconciler,
) *Service {
	return &Service{
		detector:   d,
		students:   students,
		encodings:  encodings,
		matcher:    matcher,
		reconciler: reconciler,
	}
}

// Today returns the current ledger date.
func (s *Service) Today() string {
	return s.reconciler.Today()
}

// Capture marks attendance for date from a captured frame, crediting marker for new records.
// An empty date means today. Detection, roster and matching failures return an error and leave
// the ledger untouched. Once reconciliation starts the report is always returned, and its
// Outcome distinguishes complete, partial and failed persistence from no match.
func (s *Service) Capture(ctx context.Context, image []byte, marker, date string) (*Report, error) {
	if date == "" {
		date = s.Today()
	}

	faces, err := s.detector.Detect(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	students, err := s.students.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}

	match, err := s.matcher.Match(ctx, detector.Encodings(faces), students, s.encodings)
	if err != nil {
		return nil, fmt.Errorf("matching faces: %w", err)
	}

	summary, err := s.reconciler.Reconcile(ctx, date, match.Students, marker)
	if summary == nil {
		return nil, err
	}

	report := &Report{
		Date:     date,
		Faces:    len(faces),
		Matched:  match.Matches,
		Marked:   summary.Marked,
		Skipped:  match.Skipped,
		Failures: summary.Failures,
		Reset:    summary.Reset,
	}

	switch {
	case errors.Is(err, ErrPartialReconciliation):
		report.Outcome = OutcomePartial
	case errors.Is(err, ErrReconciliationFailed):
		report.Outcome = OutcomeFailed
	case err != nil:
		return nil, err
	case len(summary.Marked) == 0:
		report.Outcome = OutcomeNoMatch
	default:
		report.Outcome = OutcomeComplete
	}

	log.Printf("Attendance %s by %s: %d faces, %d marked, %d failed (%s)",
		date, marker, report.Faces, len(report.Marked), len(report.Failures), report.Outcome)
	return report, nil
}

// Records returns ledger rows matching the filter.
func (s *Service) Records(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	return s.reconciler.ledger.ListRecords(ctx, filter)
}
