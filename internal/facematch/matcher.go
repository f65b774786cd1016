package facematch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
)

// Matcher compares observed face encodings against stored student templates.
type Matcher struct {
	Tolerance float64
	Distance  database.DistanceFunc
	Policy    Policy
}

// NewMatcher creates a matcher from the matching configuration.
func NewMatcher(cfg config.MatchingConfig) *Matcher {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = constants.DefaultTolerance
	}
	return &Matcher{
		Tolerance: tolerance,
		Distance:  database.DistanceFor(cfg.Metric),
		Policy:    Policy(cfg.Policy),
	}
}

// candidate is a roster entry with a usable template.
type candidate struct {
	student  database.Student
	template []float32
}

// loadTemplates loads each student's template once. Missing or corrupt templates are
// recorded in skipped; any other lookup failure aborts the match.
func loadTemplates(
	ctx context.Context, students []database.Student, lookup database.EncodingLoader, dim int, skipped map[string]error,
) ([]candidate, error) {
	candidates := make([]candidate, 0, len(students))
	for _, s := range students {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		template, err := lookup.LoadEncoding(ctx, s.Roll)
		switch {
		case errors.Is(err, database.ErrEncodingNotFound), errors.Is(err, database.ErrEncodingCorrupt):
			skipped[s.Roll] = err
			continue
		case err != nil:
			return nil, fmt.Errorf("loading encoding for roll %s: %w", s.Roll, err)
		}
		if len(template) != dim {
			skipped[s.Roll] = fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(template), dim)
			continue
		}
		candidates = append(candidates, candidate{student: s, template: template})
	}
	return candidates, nil
}

// Match returns the distinct students recognized among the observed encodings.
// A face matches a student when their distance is at most Tolerance (inclusive).
// Each student is credited at most once per call. Faces that match nobody are dropped.
// Empty input yields an empty result, never an error.
func (m *Matcher) Match(
	ctx context.Context, observed [][]float32, students []database.Student, lookup database.EncodingLoader,
) (*MatchResult, error) {
	result := &MatchResult{Skipped: make(map[string]error)}
	if len(observed) == 0 || len(students) == 0 {
		return result, nil
	}

	candidates, err := loadTemplates(ctx, students, lookup, len(observed[0]), result.Skipped)
	if err != nil {
		return nil, err
	}
	for roll, reason := range result.Skipped {
		log.Printf("Skipping template for roll %s: %v", roll, reason)
	}

	distance := m.Distance
	if distance == nil {
		distance = database.EuclideanDistance
	}

	credited := make(map[string]bool)
	for i, face := range observed {
		var best *candidate
		bestDistance := math.Inf(1)

		for j := range candidates {
			c := &candidates[j]
			if credited[c.student.Roll] {
				continue
			}
			d := distance(face, c.template)
			if d > m.Tolerance {
				continue
			}
			if m.Policy != PolicyNearest {
				best, bestDistance = c, d
				break
			}
			if d < bestDistance || (d == bestDistance && c.student.Roll < best.student.Roll) {
				best, bestDistance = c, d
			}
		}

		if best == nil {
			continue
		}
		credited[best.student.Roll] = true
		result.Students = append(result.Students, best.student)
		result.Matches = append(result.Matches, FaceMatch{FaceIndex: i, Student: best.student, Distance: bestDistance})
	}

	return result, nil
}
