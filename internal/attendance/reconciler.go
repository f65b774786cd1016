// Package attendance turns recognized students into daily attendance ledger changes.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
)

var (
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid attendance date")
	// ErrPartialReconciliation is returned when some matched students were recorded and others were not.
	ErrPartialReconciliation = errors.New("attendance partially recorded")
	// ErrReconciliationFailed is returned when no matched student could be recorded.
	ErrReconciliationFailed = errors.New("attendance not recorded")
)

// Summary describes the ledger changes made by one reconciliation.
type Summary struct {
	Date string
	// Reset is the number of existing rows set to Absent, zero when the reset was skipped.
	Reset  int64
	Seeded int64
	// Marked are the students recorded Present, in match order.
	Marked []database.Student
	// Failures maps roll to the write error for students that could not be recorded.
	Failures map[string]error
}

// Names returns the distinct names of the students marked present.
func (s *Summary) Names() []string {
	seen := make(map[string]bool, len(s.Marked))
	names := make([]string, 0, len(s.Marked))
	for _, st := range s.Marked {
		if seen[st.Name] {
			continue
		}
		seen[st.Name] = true
		names = append(names, st.Name)
	}
	return names
}

// Reconciler applies match results to the attendance ledger. It is the only writer of attendance records.
type Reconciler struct {
	ledger     database.AttendanceLedger
	students   database.StudentReader // only used to seed Absent rows
	resetMode  string
	seedAbsent bool
	location   *time.Location
	now        func() time.Time

	mu    sync.Mutex
	dates map[string]*sync.Mutex
}

// NewReconciler creates a reconciler. students may be nil when Absent seeding is disabled.
func NewReconciler(ledger database.AttendanceLedger, students database.StudentReader, cfg config.AttendanceConfig) *Reconciler {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil || cfg.TimeZone == "" {
		loc = time.Local
	}
	return &Reconciler{
		ledger:     ledger,
		students:   students,
		resetMode:  cfg.ResetMode,
		seedAbsent: cfg.SeedAbsent,
		location:   loc,
		now:        time.Now,
		dates:      make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Today returns the current date in the configured time zone.
func (r *Reconciler) Today() string {
	return r.now().In(r.location).Format(database.DateLayout)
}

// lockDate serialises reconciliations of the same date within this process.
func (r *Reconciler) lockDate(date string) func() {
	r.mu.Lock()
	l, ok := r.dates[date]
	if !ok {
		l = &sync.Mutex{}
		r.dates[date] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (r *Reconciler) reset(ctx context.Context, date string) (int64, error) {
	if r.resetMode == config.ResetDaily {
		n, _, err := r.ledger.ResetDateOnce(ctx, date)
		if err != nil {
			return 0, fmt.Errorf("resetting attendance for %s: %w", date, err)
		}
		return n, nil
	}
	n, err := r.ledger.ResetDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("resetting attendance for %s: %w", date, err)
	}
	return n, nil
}

func (r *Reconciler) seed(ctx context.Context, date string) int64 {
	if !r.seedAbsent || r.students == nil {
		return 0
	}
	students, err := r.students.ListStudents(ctx)
	if err != nil {
		log.Printf("Warning: listing students for absent seeding: %v", err)
		return 0
	}
	n, err := r.ledger.SeedAbsent(ctx, date, students)
	if err != nil {
		log.Printf("Warning: seeding absent rows for %s: %v", date, err)
		return 0
	}
	return n
}

// markPresent updates an existing record's time and status, or inserts a new Present record.
// The teacher of an existing record is left unchanged.
func (r *Reconciler) markPresent(ctx context.Context, date, timeOfDay, marker string, s database.Student) error {
	existing, err := r.ledger.GetRecord(ctx, s.Roll, date)
	if err != nil {
		return fmt.Errorf("looking up record: %w", err)
	}
	if existing != nil {
		if err := r.ledger.MarkPresent(ctx, s.Roll, date, timeOfDay); err != nil {
			return fmt.Errorf("updating record: %w", err)
		}
		return nil
	}
	rec := &database.AttendanceRecord{
		Roll:    s.Roll,
		Name:    s.Name,
		Class:   s.Class,
		Date:    date,
		Time:    timeOfDay,
		Teacher: marker,
		Status:  database.StatusPresent,
	}
	if err := r.ledger.InsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Reconcile resets the date's records to Absent and then records each matched student as Present.
// Every write commits on its own, so a failure leaves earlier writes in place. The returned summary
// is always non-nil once the reset succeeded; err wraps ErrPartialReconciliation or
// ErrReconciliationFailed when some or all student writes failed.
func (r *Reconciler) Reconcile(ctx context.Context, date string, matched []database.Student, marker string) (*Summary, error) {
	if _, err := time.Parse(database.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	unlock := r.lockDate(date)
	defer unlock()

	summary := &Summary{Date: date, Failures: make(map[string]error)}

	reset, err := r.reset(ctx, date)
	if err != nil {
		return nil, err
	}
	summary.Reset = reset
	summary.Seeded = r.seed(ctx, date)

	seen := make(map[string]bool, len(matched))
	for _, s := range matched {
		if seen[s.Roll] {
			continue
		}
		seen[s.Roll] = true

		if err := ctx.Err(); err != nil {
			summary.Failures[s.Roll] = err
			continue
		}
		timeOfDay := r.now().In(r.location).Format(database.TimeLayout)
		if err := r.markPresent(ctx, date, timeOfDay, marker, s); err != nil {
			log.Printf("Failed to record attendance for roll %s on %s: %v", s.Roll, date, err)
			summary.Failures[s.Roll] = err
			continue
		}
		summary.Marked = append(summary.Marked, s)
	}

	switch {
	case len(summary.Failures) == 0:
		return summary, nil
	case len(summary.Marked) > 0:
		return summary, fmt.Errorf("%w: %d of %d students", ErrPartialReconciliation, len(summary.Failures), len(seen))
	default:
		return summary, fmt.Errorf("%w: %d students", ErrReconciliationFailed, len(summary.Failures))
	}
}
