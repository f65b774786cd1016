package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/lib/pq"
)

// AttendanceRepository provides PostgreSQL-backed storage for the attendance ledger.
// Every method runs as its own statement so each write commits on return.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = `id, roll, name, class, to_char(date, 'YYYY-MM-DD'),
	COALESCE(to_char(time, 'HH24:MI:SS'), ''), teacher, status`

func scanRecord(row interface{ Scan(...any) error }) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var status string
	if err := row.Scan(&rec.ID, &rec.Roll, &rec.Name, &rec.Class, &rec.Date, &rec.Time, &rec.Teacher, &status); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	rec.Status = database.AttendanceStatus(status)
	return &rec, nil
}

// ResetDate sets every record for the date to Absent.
func (r *AttendanceRepository) ResetDate(ctx context.Context, date string) (int64, error) {
	result, err := r.pool.Exec(ctx, "UPDATE attendance SET status = $1 WHERE date = $2", database.StatusAbsent, date)
	if err != nil {
		return 0, fmt.Errorf("reset attendance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// ResetDateOnce claims the date in attendance_resets and resets its records in one transaction.
// A failed reset rolls the claim back, so the next call retries it.
func (r *AttendanceRepository) ResetDateOnce(ctx context.Context, date string) (int64, bool, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_resets (date) VALUES ($1)
		ON CONFLICT (date) DO NOTHING
	`, date)
	if err != nil {
		return 0, false, fmt.Errorf("claim daily reset: %w", err)
	}
	claimed, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("getting rows affected: %w", err)
	}
	if claimed == 0 {
		return 0, false, nil
	}

	result, err = tx.ExecContext(ctx, "UPDATE attendance SET status = $1 WHERE date = $2", database.StatusAbsent, date)
	if err != nil {
		return 0, false, fmt.Errorf("reset attendance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit daily reset: %w", err)
	}
	return n, true, nil
}

// SeedAbsent inserts Absent rows for students that have no record for the date.
func (r *AttendanceRepository) SeedAbsent(ctx context.Context, date string, students []database.Student) (int64, error) {
	if len(students) == 0 {
		return 0, nil
	}

	rolls := make([]string, len(students))
	names := make([]string, len(students))
	classes := make([]string, len(students))
	for i, s := range students {
		rolls[i] = s.Roll
		names[i] = s.Name
		classes[i] = s.Class
	}

	result, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (roll, name, class, date, status)
		SELECT s.roll, s.name, s.class, $4, $5
		FROM unnest($1::text[], $2::text[], $3::text[]) AS s(roll, name, class)
		ON CONFLICT (roll, date) DO NOTHING
	`, pq.Array(rolls), pq.Array(names), pq.Array(classes), date, database.StatusAbsent)
	if err != nil {
		return 0, fmt.Errorf("seed absent rows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// GetRecord retrieves the record for a roll on a date, returns nil if not found.
func (r *AttendanceRepository) GetRecord(ctx context.Context, roll, date string) (*database.AttendanceRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		"SELECT "+attendanceColumns+" FROM attendance WHERE roll = $1 AND date = $2", roll, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return rec, nil
}

// MarkPresent refreshes the time of an existing record and sets it Present.
// The teacher column is left untouched.
func (r *AttendanceRepository) MarkPresent(ctx context.Context, roll, date, timeOfDay string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE attendance SET time = $1, status = $2
		WHERE roll = $3 AND date = $4
	`, timeOfDay, database.StatusPresent, roll, date)
	if err != nil {
		return fmt.Errorf("mark present: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark present %s on %s: %w", roll, date, database.ErrRecordNotFound)
	}
	return nil
}

// InsertRecord inserts a new ledger row.
func (r *AttendanceRepository) InsertRecord(ctx context.Context, rec *database.AttendanceRecord) error {
	var timeOfDay any
	if rec.Time != "" {
		timeOfDay = rec.Time
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attendance (roll, name, class, date, time, teacher, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.Roll, rec.Name, rec.Class, rec.Date, timeOfDay, rec.Teacher, rec.Status).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// ListRecords returns records matching the filter, newest first.
func (r *AttendanceRepository) ListRecords(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Date != "" {
		add("date = $%d", filter.Date)
	}
	if filter.From != "" {
		add("date >= $%d", filter.From)
	}
	if filter.To != "" {
		add("date <= $%d", filter.To)
	}
	if filter.Roll != "" {
		add("roll = $%d", filter.Roll)
	}
	if filter.Class != "" {
		add("class = $%d", filter.Class)
	}

	query := "SELECT " + attendanceColumns + " FROM attendance"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date DESC, time DESC NULLS LAST, roll"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}
