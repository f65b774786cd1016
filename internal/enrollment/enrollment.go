// Package enrollment registers, edits and removes students together with their face templates.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/detector"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/imaging"
)

var validate = validator.New()

// Input is the editable part of a student record.
type Input struct {
	Name  string `json:"name" validate:"required,max=200"`
	Roll  string `json:"roll" validate:"required,max=64,excludesall=/\\"`
	Class string `json:"class" validate:"required,max=64"`
}

func (in Input) normalized() Input {
	return Input{
		Name:  strings.TrimSpace(in.Name),
		Roll:  strings.TrimSpace(in.Roll),
		Class: strings.TrimSpace(in.Class),
	}
}

// ValidationError lists invalid fields with the rule each one failed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f, tag := range e.Fields {
		fields = append(fields, f+" ("+tag+")")
	}
	slices.Sort(fields)
	return "invalid input: " + strings.Join(fields, ", ")
}

func validateInput(in Input) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

// Registration is the result of enrolling a student.
type Registration struct {
	Student *database.Student
	// LookAlikes are already enrolled students whose template is within tolerance of the new face.
	LookAlikes []database.IndexMatch
}

// Service manages the student directory and keeps the encoding store keyed by each student's current roll.
type Service struct {
	students   database.StudentWriter
	encodings  database.EncodingStore
	detector   detector.Detector
	index      *database.EncodingIndex
	uploadsDir string
	tolerance  float64
}

// NewService creates an enrollment service. index may be nil.
func NewService(
	students database.StudentWriter,
	encodings database.EncodingStore,
	d detector.Detector,
	index *database.EncodingIndex,
	uploadsDir string,
	tolerance float64,
) *Service {
	return &Service{
		students:   students,
		encodings:  encodings,
		detector:   d,
		index:      index,
		uploadsDir: uploadsDir,
		tolerance:  tolerance,
	}
}

// savePhoto writes the photo under a random name and returns its path.
func (s *Service) savePhoto(photo []byte) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating uploads directory: %w", err)
	}
	path := filepath.Join(s.uploadsDir, uuid.NewString()+imaging.Extension(photo))
	if err := os.WriteFile(path, photo, 0o644); err != nil { //nolint:gosec // photos are served to teachers
		return "", fmt.Errorf("saving photo: %w", err)
	}
	return path, nil
}

func removePhoto(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove photo %s: %v", path, err)
	}
}

func (s *Service) lookAlikes(encoding []float32) []database.IndexMatch {
	if s.index == nil {
		return nil
	}
	matches, err := s.index.FindSimilar(encoding, constants.LookAlikeLimit, s.tolerance)
	if err != nil {
		log.Printf("Warning: look-alike search failed: %v", err)
		return nil
	}
	return matches
}

// Register enrolls a new student from a reference photo. The first detected face becomes the
// template. A taken roll returns database.ErrDuplicateRoll before anything is written.
func (s *Service) Register(ctx context.Context, in Input, photo []byte) (*Registration, error) {
	in = in.normalized()
	if err := validateInput(in); err != nil {
		return nil, err
	}

	existing, err := s.students.GetStudentByRoll(ctx, in.Roll)
	if err != nil {
		return nil, fmt.Errorf("checking roll: %w", err)
	}
	if existing != nil {
		return nil, database.ErrDuplicateRoll
	}

	face, err := detector.DetectOne(ctx, s.detector, photo)
	if err != nil {
		return nil, err
	}
	lookAlikes := s.lookAlikes(face.Encoding)

	photoPath, err := s.savePhoto(photo)
	if err != nil {
		return nil, err
	}

	student := &database.Student{Name: in.Name, Roll: in.Roll, Class: in.Class, PhotoPath: photoPath}
	if err := s.students.CreateStudent(ctx, student); err != nil {
		removePhoto(photoPath)
		return nil, err
	}

	if err := s.encodings.SaveEncoding(ctx, student.Roll, face.Encoding); err != nil {
		if delErr := s.students.DeleteStudent(ctx, student.ID); delErr != nil {
			log.Printf("Warning: failed to remove student %d after encoding error: %v", student.ID, delErr)
		}
		removePhoto(photoPath)
		return nil, fmt.Errorf("saving encoding: %w", err)
	}

	if s.index != nil {
		s.index.Put(student.Roll, face.Encoding)
	}
	log.Printf("Registered student %s (%s)", student.Name, student.Roll)
	return &Registration{Student: student, LookAlikes: lookAlikes}, nil
}

// Update edits a student. A new photo replaces the template; a roll change without a photo
// moves the existing template to the new roll. photo may be nil.
func (s *Service) Update(ctx context.Context, id int64, in Input, photo []byte) (*database.Student, error) {
	in = in.normalized()
	if err := validateInput(in); err != nil {
		return nil, err
	}

	current, err := s.students.GetStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting student: %w", err)
	}
	if current == nil {
		return nil, database.ErrStudentNotFound
	}

	rollChanged := in.Roll != current.Roll
	if rollChanged {
		other, err := s.students.GetStudentByRoll(ctx, in.Roll)
		if err != nil {
			return nil, fmt.Errorf("checking roll: %w", err)
		}
		if other != nil && other.ID != id {
			return nil, database.ErrDuplicateRoll
		}
	}

	var face *detector.Face
	updated := *current
	updated.Name, updated.Roll, updated.Class = in.Name, in.Roll, in.Class
	if len(photo) > 0 {
		face, err = detector.DetectOne(ctx, s.detector, photo)
		if err != nil {
			return nil, err
		}
		if updated.PhotoPath, err = s.savePhoto(photo); err != nil {
			return nil, err
		}
	}

	if err := s.students.UpdateStudent(ctx, &updated); err != nil {
		if face != nil {
			removePhoto(updated.PhotoPath)
		}
		return nil, err
	}

	if err := s.moveTemplate(ctx, current.Roll, updated.Roll, face); err != nil {
		// Put the row back so the template stays keyed by the student's roll.
		if revertErr := s.students.UpdateStudent(ctx, current); revertErr != nil {
			log.Printf("Warning: failed to revert student %d: %v", id, revertErr)
		}
		if face != nil {
			removePhoto(updated.PhotoPath)
		}
		return nil, err
	}

	if face != nil && updated.PhotoPath != current.PhotoPath {
		removePhoto(current.PhotoPath)
	}
	return &updated, nil
}

// moveTemplate stores a new template under newRoll, or renames the existing one when face is nil.
func (s *Service) moveTemplate(ctx context.Context, oldRoll, newRoll string, face *detector.Face) error {
	if face == nil {
		if oldRoll == newRoll {
			return nil
		}
		if err := s.encodings.RenameEncoding(ctx, oldRoll, newRoll); err != nil {
			return fmt.Errorf("renaming encoding: %w", err)
		}
		if s.index != nil {
			s.index.Rename(oldRoll, newRoll)
		}
		return nil
	}

	if err := s.encodings.SaveEncoding(ctx, newRoll, face.Encoding); err != nil {
		return fmt.Errorf("saving encoding: %w", err)
	}
	if oldRoll != newRoll {
		if err := s.encodings.DeleteEncoding(ctx, oldRoll); err != nil {
			log.Printf("Warning: failed to delete encoding for old roll %s: %v", oldRoll, err)
		}
	}
	if s.index != nil {
		s.index.Remove(oldRoll)
		s.index.Put(newRoll, face.Encoding)
	}
	return nil
}

// Delete removes a student. The template and photo are removed best-effort.
func (s *Service) Delete(ctx context.Context, id int64) error {
	current, err := s.students.GetStudent(ctx, id)
	if err != nil {
		return fmt.Errorf("getting student: %w", err)
	}
	if current == nil {
		return database.ErrStudentNotFound
	}

	if err := s.students.DeleteStudent(ctx, id); err != nil {
		return err
	}

	if err := s.encodings.DeleteEncoding(ctx, current.Roll); err != nil {
		log.Printf("Warning: failed to delete encoding for roll %s: %v", current.Roll, err)
	}
	if s.index != nil {
		s.index.Remove(current.Roll)
	}
	removePhoto(current.PhotoPath)
	log.Printf("Deleted student %s (%s)", current.Name, current.Roll)
	return nil
}

// Get returns a student by ID.
func (s *Service) Get(ctx context.Context, id int64) (*database.Student, error) {
	student, err := s.students.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, database.ErrStudentNotFound
	}
	return student, nil
}

// List returns all students in enrollment order.
func (s *Service) List(ctx context.Context) ([]database.Student, error) {
	return s.students.ListStudents(ctx)
}

// Count returns the number of enrolled students.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.students.CountStudents(ctx)
}

// Search returns students whose name, roll or class contains query, ignoring case and diacritics.
func (s *Service) Search(ctx context.Context, query string) ([]database.Student, error) {
	students, err := s.students.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	raw := strings.ToLower(strings.TrimSpace(query))
	if raw == "" {
		return students, nil
	}
	q := facematch.NormalizePersonName(raw)

	var result []database.Student
	for _, st := range students {
		if strings.Contains(facematch.NormalizePersonName(st.Name), q) ||
			strings.Contains(strings.ToLower(st.Roll), raw) ||
			strings.Contains(strings.ToLower(st.Class), raw) {
			result = append(result, st)
		}
	}
	return result, nil
}

// HasTemplate reports whether a usable template is stored for the roll.
func (s *Service) HasTemplate(ctx context.Context, roll string) (bool, error) {
	_, err := s.encodings.LoadEncoding(ctx, roll)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, database.ErrEncodingNotFound), errors.Is(err, database.ErrEncodingCorrupt):
		return false, nil
	default:
		return false, err
	}
}
