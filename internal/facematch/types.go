// Package facematch decides which enrolled students appear in a captured frame.
// It is shared between the CLI and the web handlers.
package facematch

import (
	"errors"

	"github.com/kozaktomas/rollcall/internal/database"
)

// ErrDimensionMismatch is recorded for a template whose length differs from the observed encodings.
var ErrDimensionMismatch = errors.New("encoding dimension mismatch")

// Policy selects which student an observed face is credited to.
type Policy string

const (
	// PolicyFirst credits the first uncredited student in roster order within tolerance.
	PolicyFirst Policy = "first"
	// PolicyNearest credits the uncredited student with the smallest distance, ties broken by roll.
	PolicyNearest Policy = "nearest"
)

// FaceMatch records which student an observed face was credited to.
type FaceMatch struct {
	FaceIndex int
	Student   database.Student
	Distance  float64
}

// MatchResult is the outcome of matching one frame against the roster.
type MatchResult struct {
	// Students are the distinct recognized students in the order they were credited.
	Students []database.Student
	// Matches has one entry per credited face, same order as Students.
	Matches []FaceMatch
	// Skipped maps roll to the reason its template could not be used.
	Skipped map[string]error
}

// Rolls returns the roll numbers of the recognized students.
func (r *MatchResult) Rolls() []string {
	rolls := make([]string, len(r.Students))
	for i, s := range r.Students {
		rolls[i] = s.Roll
	}
	return rolls
}
