package enrollment

import (
	"context"
	"fmt"
	"log"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// RosterSync reports what SyncRoster changed.
type RosterSync struct {
	Updated   []string               // rolls whose name or class changed
	Unchanged int                    // rolls already up to date
	Missing   []database.RosterEntry // roster rows with no enrolled student, they need a photo
	Duplicate []string               // rolls listed more than once, later rows ignored
}

// SyncRoster updates names and classes of enrolled students from an external roster.
// Students cannot be created here since registration needs a photo. Names are compared
// ignoring case and diacritics so transliteration differences do not count as changes.
func (s *Service) SyncRoster(ctx context.Context, entries []database.RosterEntry) (*RosterSync, error) {
	result := &RosterSync{}
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		if seen[e.Roll] {
			result.Duplicate = append(result.Duplicate, e.Roll)
			continue
		}
		seen[e.Roll] = true

		current, err := s.students.GetStudentByRoll(ctx, e.Roll)
		if err != nil {
			return nil, fmt.Errorf("getting student %s: %w", e.Roll, err)
		}
		if current == nil {
			result.Missing = append(result.Missing, e)
			continue
		}

		sameName := e.Name == "" || facematch.NormalizePersonName(e.Name) == facematch.NormalizePersonName(current.Name)
		sameClass := e.Class == "" || e.Class == current.Class
		if sameName && sameClass {
			result.Unchanged++
			continue
		}

		updated := *current
		if !sameName {
			updated.Name = e.Name
		}
		if !sameClass {
			updated.Class = e.Class
		}
		if err := s.students.UpdateStudent(ctx, &updated); err != nil {
			return nil, fmt.Errorf("updating student %s: %w", e.Roll, err)
		}
		log.Printf("Roster update for %s: %q/%q -> %q/%q", e.Roll, current.Name, current.Class, updated.Name, updated.Class)
		result.Updated = append(result.Updated, e.Roll)
	}

	return result, nil
}
