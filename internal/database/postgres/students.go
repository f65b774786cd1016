package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
)

// StudentRepository provides PostgreSQL-backed student directory storage.
type StudentRepository struct {
	pool *Pool
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

const studentColumns = "id, name, roll, class, photo_path, created_at"

func scanStudent(row interface{ Scan(...any) error }) (*database.Student, error) {
	var s database.Student
	if err := row.Scan(&s.ID, &s.Name, &s.Roll, &s.Class, &s.PhotoPath, &s.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	return &s, nil
}

// GetStudent retrieves a student by ID, returns nil if not found.
func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx, "SELECT "+studentColumns+" FROM students WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}

// GetStudentByRoll retrieves a student by roll number, returns nil if not found.
func (r *StudentRepository) GetStudentByRoll(ctx context.Context, roll string) (*database.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx, "SELECT "+studentColumns+" FROM students WHERE roll = $1", roll))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student by roll: %w", err)
	}
	return s, nil
}

// ListStudents returns all students in enrollment order.
func (r *StudentRepository) ListStudents(ctx context.Context) ([]database.Student, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+studentColumns+" FROM students ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	var students []database.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// CountStudents returns the number of enrolled students.
func (r *StudentRepository) CountStudents(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM students").Scan(&count); err != nil {
		return 0, fmt.Errorf("count students: %w", err)
	}
	return count, nil
}

// CreateStudent inserts a student and sets its ID and creation time.
func (r *StudentRepository) CreateStudent(ctx context.Context, s *database.Student) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO students (name, roll, class, photo_path)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, s.Name, s.Roll, s.Class, s.PhotoPath).Scan(&s.ID, &s.CreatedAt)
	if isUniqueViolation(err) {
		return database.ErrDuplicateRoll
	}
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// UpdateStudent overwrites the mutable fields of a student.
func (r *StudentRepository) UpdateStudent(ctx context.Context, s *database.Student) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE students SET name = $1, roll = $2, class = $3, photo_path = $4
		WHERE id = $5
	`, s.Name, s.Roll, s.Class, s.PhotoPath, s.ID)
	if isUniqueViolation(err) {
		return database.ErrDuplicateRoll
	}
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return requireAffected(result, database.ErrStudentNotFound)
}

// DeleteStudent removes a student by ID.
func (r *StudentRepository) DeleteStudent(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM students WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return requireAffected(result, database.ErrStudentNotFound)
}

// requireAffected returns notFound when the statement touched no rows.
func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
