// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/database"
)

// MockStudentStore is an in-memory implementation of database.StudentWriter
type MockStudentStore struct {
	mu       sync.RWMutex
	students []database.Student
	nextID   int64

	// Error injection
	GetError    error
	ListError   error
	CountError  error
	CreateError error
	UpdateError error
	DeleteError error
}

// NewMockStudentStore creates a new mock student store
func NewMockStudentStore() *MockStudentStore {
	return &MockStudentStore{nextID: 1}
}

// AddStudent adds a student directly, assigning an ID when it has none
func (m *MockStudentStore) AddStudent(s database.Student) database.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID
	}
	if s.ID >= m.nextID {
		m.nextID = s.ID + 1
	}
	m.students = append(m.students, s)
	return s
}

// GetStudent retrieves a student by ID
func (m *MockStudentStore) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

// GetStudentByRoll retrieves a student by roll
func (m *MockStudentStore) GetStudentByRoll(ctx context.Context, roll string) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.Roll == roll {
			return &s, nil
		}
	}
	return nil, nil
}

// ListStudents returns students in insertion order
func (m *MockStudentStore) ListStudents(ctx context.Context) ([]database.Student, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.students), nil
}

// CountStudents returns the number of students
func (m *MockStudentStore) CountStudents(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.students), nil
}

// CreateStudent inserts a student enforcing roll uniqueness
func (m *MockStudentStore) CreateStudent(ctx context.Context, s *database.Student) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if existing.Roll == s.Roll {
			return database.ErrDuplicateRoll
		}
	}
	s.ID = m.nextID
	m.nextID++
	s.CreatedAt = time.Now()
	m.students = append(m.students, *s)
	return nil
}

// UpdateStudent overwrites a student enforcing roll uniqueness
func (m *MockStudentStore) UpdateStudent(ctx context.Context, s *database.Student) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, existing := range m.students {
		if existing.ID == s.ID {
			idx = i
		} else if existing.Roll == s.Roll {
			return database.ErrDuplicateRoll
		}
	}
	if idx < 0 {
		return database.ErrStudentNotFound
	}
	s.CreatedAt = m.students[idx].CreatedAt
	m.students[idx] = *s
	return nil
}

// DeleteStudent removes a student
func (m *MockStudentStore) DeleteStudent(ctx context.Context, id int64) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.students {
		if s.ID == id {
			m.students = slices.Delete(m.students, i, i+1)
			return nil
		}
	}
	return database.ErrStudentNotFound
}

// MockEncodingStore is an in-memory implementation of database.EncodingStore
type MockEncodingStore struct {
	mu        sync.RWMutex
	encodings map[string][]float32
	corrupt   map[string]bool

	// Error injection
	SaveError   error
	LoadError   error
	RenameError error
	DeleteError error
	ListError   error

	// LoadCalls counts LoadEncoding invocations per roll
	LoadCalls map[string]int
}

// NewMockEncodingStore creates a new mock encoding store
func NewMockEncodingStore() *MockEncodingStore {
	return &MockEncodingStore{
		encodings: make(map[string][]float32),
		corrupt:   make(map[string]bool),
		LoadCalls: make(map[string]int),
	}
}

// SetCorrupt makes LoadEncoding return ErrEncodingCorrupt for a roll
func (m *MockEncodingStore) SetCorrupt(roll string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[roll] = true
}

// Has reports whether a template is stored for the roll
func (m *MockEncodingStore) Has(roll string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.encodings[roll]
	return ok
}

// SaveEncoding stores a copy of the template
func (m *MockEncodingStore) SaveEncoding(ctx context.Context, roll string, encoding []float32) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encodings[roll] = slices.Clone(encoding)
	delete(m.corrupt, roll)
	return nil
}

// LoadEncoding returns the stored template
func (m *MockEncodingStore) LoadEncoding(ctx context.Context, roll string) ([]float32, error) {
	m.mu.Lock()
	m.LoadCalls[roll]++
	m.mu.Unlock()

	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.corrupt[roll] {
		return nil, database.ErrEncodingCorrupt
	}
	enc, ok := m.encodings[roll]
	if !ok {
		return nil, database.ErrEncodingNotFound
	}
	return slices.Clone(enc), nil
}

// RenameEncoding moves a template; a missing source is ignored
func (m *MockEncodingStore) RenameEncoding(ctx context.Context, oldRoll, newRoll string) error {
	if m.RenameError != nil {
		return m.RenameError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	enc, ok := m.encodings[oldRoll]
	if !ok || oldRoll == newRoll {
		return nil
	}
	m.encodings[newRoll] = enc
	delete(m.encodings, oldRoll)
	return nil
}

// DeleteEncoding removes a template; a missing roll is ignored
func (m *MockEncodingStore) DeleteEncoding(ctx context.Context, roll string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.encodings, roll)
	return nil
}

// ListEncodings returns all templates ordered by roll
func (m *MockEncodingStore) ListEncodings(ctx context.Context) ([]database.StoredEncoding, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]database.StoredEncoding, 0, len(m.encodings))
	for roll, enc := range m.encodings {
		result = append(result, database.StoredEncoding{Roll: roll, Encoding: slices.Clone(enc), Dim: len(enc)})
	}
	slices.SortFunc(result, func(a, b database.StoredEncoding) int { return strings.Compare(a.Roll, b.Roll) })
	return result, nil
}

// MockLedger is an in-memory implementation of database.AttendanceLedger
type MockLedger struct {
	mu      sync.RWMutex
	records []database.AttendanceRecord
	resets  map[string]bool
	nextID  int64

	// Error injection
	ResetError  error
	ClaimError  error
	SeedError   error
	GetError    error
	ListError   error
	InsertError error
	MarkError   error
	// FailWritesFor makes InsertRecord and MarkPresent fail for the listed rolls
	FailWritesFor map[string]error

	// ResetCalls counts resets that reached the records
	ResetCalls int
}

// NewMockLedger creates a new mock attendance ledger
func NewMockLedger() *MockLedger {
	return &MockLedger{resets: make(map[string]bool), nextID: 1}
}

// AddRecord adds a record directly
func (m *MockLedger) AddRecord(rec database.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
}

// Records returns a copy of all records in insertion order
func (m *MockLedger) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// ResetDate sets every record for the date to Absent
func (m *MockLedger) ResetDate(ctx context.Context, date string) (int64, error) {
	if m.ResetError != nil {
		return 0, m.ResetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetLocked(date), nil
}

// ResetDateOnce resets the date only on its first successful call
func (m *MockLedger) ResetDateOnce(ctx context.Context, date string) (int64, bool, error) {
	if m.ClaimError != nil {
		return 0, false, m.ClaimError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resets[date] {
		return 0, false, nil
	}
	if m.ResetError != nil {
		return 0, false, m.ResetError
	}
	m.resets[date] = true
	return m.resetLocked(date), true, nil
}

func (m *MockLedger) resetLocked(date string) int64 {
	m.ResetCalls++
	var n int64
	for i := range m.records {
		if m.records[i].Date == date {
			m.records[i].Status = database.StatusAbsent
			n++
		}
	}
	return n
}

// SeedAbsent inserts Absent rows for students lacking one on the date
func (m *MockLedger) SeedAbsent(ctx context.Context, date string, students []database.Student) (int64, error) {
	if m.SeedError != nil {
		return 0, m.SeedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range students {
		if m.find(s.Roll, date) >= 0 {
			continue
		}
		m.records = append(m.records, database.AttendanceRecord{
			ID: m.nextID, Roll: s.Roll, Name: s.Name, Class: s.Class, Date: date, Status: database.StatusAbsent,
		})
		m.nextID++
		n++
	}
	return n, nil
}

func (m *MockLedger) find(roll, date string) int {
	for i, r := range m.records {
		if r.Roll == roll && r.Date == date {
			return i
		}
	}
	return -1
}

// GetRecord retrieves the record for a roll on a date
func (m *MockLedger) GetRecord(ctx context.Context, roll, date string) (*database.AttendanceRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.find(roll, date); i >= 0 {
		rec := m.records[i]
		return &rec, nil
	}
	return nil, nil
}

// MarkPresent refreshes time and sets Present
func (m *MockLedger) MarkPresent(ctx context.Context, roll, date, timeOfDay string) error {
	if m.MarkError != nil {
		return m.MarkError
	}
	if err := m.FailWritesFor[roll]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(roll, date)
	if i < 0 {
		return database.ErrRecordNotFound
	}
	m.records[i].Time = timeOfDay
	m.records[i].Status = database.StatusPresent
	return nil
}

// InsertRecord appends a record
func (m *MockLedger) InsertRecord(ctx context.Context, rec *database.AttendanceRecord) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	if err := m.FailWritesFor[rec.Roll]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, *rec)
	return nil
}

// ListRecords returns records matching the filter, newest first
func (m *MockLedger) ListRecords(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.AttendanceRecord
	for _, r := range m.records {
		if filter.Date != "" && r.Date != filter.Date {
			continue
		}
		if filter.From != "" && r.Date < filter.From {
			continue
		}
		if filter.To != "" && r.Date > filter.To {
			continue
		}
		if filter.Roll != "" && r.Roll != filter.Roll {
			continue
		}
		if filter.Class != "" && r.Class != filter.Class {
			continue
		}
		result = append(result, r)
	}
	slices.SortStableFunc(result, func(a, b database.AttendanceRecord) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		if c := strings.Compare(b.Time, a.Time); c != 0 {
			return c
		}
		return strings.Compare(a.Roll, b.Roll)
	})
	return result, nil
}
