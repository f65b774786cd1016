//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestStudentRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewStudentRepository(pool)

	alice := &database.Student{Name: "Alice Nováková", Roll: "7A-01", Class: "7A", PhotoPath: "uploads/a.jpg"}

	t.Run("CreateAndGet", func(t *testing.T) {
		if err := repo.CreateStudent(ctx, alice); err != nil {
			t.Fatalf("Failed to create student: %v", err)
		}
		if alice.ID == 0 {
			t.Fatal("Expected ID to be set")
		}
		if alice.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be set")
		}

		got, err := repo.GetStudent(ctx, alice.ID)
		if err != nil {
			t.Fatalf("Failed to get student: %v", err)
		}
		if got == nil || got.Name != "Alice Nováková" || got.Roll != "7A-01" {
			t.Errorf("Unexpected student: %+v", got)
		}

		byRoll, err := repo.GetStudentByRoll(ctx, "7A-01")
		if err != nil {
			t.Fatalf("Failed to get student by roll: %v", err)
		}
		if byRoll == nil || byRoll.ID != alice.ID {
			t.Errorf("Expected student %d by roll, got %+v", alice.ID, byRoll)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		got, err := repo.GetStudent(ctx, 99999)
		if err != nil || got != nil {
			t.Errorf("Expected nil, nil for missing student, got %+v, %v", got, err)
		}
		got, err = repo.GetStudentByRoll(ctx, "nope")
		if err != nil || got != nil {
			t.Errorf("Expected nil, nil for missing roll, got %+v, %v", got, err)
		}
	})

	t.Run("DuplicateRoll", func(t *testing.T) {
		err := repo.CreateStudent(ctx, &database.Student{Name: "Other", Roll: "7A-01", Class: "7B"})
		if !errors.Is(err, database.ErrDuplicateRoll) {
			t.Errorf("Expected ErrDuplicateRoll, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		bob := &database.Student{Name: "Bob", Roll: "7A-02", Class: "7A"}
		if err := repo.CreateStudent(ctx, bob); err != nil {
			t.Fatalf("Failed to create student: %v", err)
		}

		bob.Roll = "7A-01"
		if err := repo.UpdateStudent(ctx, bob); !errors.Is(err, database.ErrDuplicateRoll) {
			t.Errorf("Expected ErrDuplicateRoll on roll collision, got %v", err)
		}

		bob.Roll = "7B-02"
		bob.Class = "7B"
		if err := repo.UpdateStudent(ctx, bob); err != nil {
			t.Fatalf("Failed to update student: %v", err)
		}
		got, _ := repo.GetStudent(ctx, bob.ID)
		if got.Roll != "7B-02" || got.Class != "7B" {
			t.Errorf("Update not persisted: %+v", got)
		}

		missing := &database.Student{ID: 99999, Name: "X", Roll: "X", Class: "X"}
		if err := repo.UpdateStudent(ctx, missing); !errors.Is(err, database.ErrStudentNotFound) {
			t.Errorf("Expected ErrStudentNotFound, got %v", err)
		}
	})

	t.Run("ListAndCount", func(t *testing.T) {
		students, err := repo.ListStudents(ctx)
		if err != nil {
			t.Fatalf("Failed to list students: %v", err)
		}
		if len(students) != 2 || students[0].ID != alice.ID {
			t.Errorf("Expected 2 students in enrollment order, got %+v", students)
		}
		count, err := repo.CountStudents(ctx)
		if err != nil || count != 2 {
			t.Errorf("Expected count 2, got %d, %v", count, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteStudent(ctx, alice.ID); err != nil {
			t.Fatalf("Failed to delete student: %v", err)
		}
		if err := repo.DeleteStudent(ctx, alice.ID); !errors.Is(err, database.ErrStudentNotFound) {
			t.Errorf("Expected ErrStudentNotFound on second delete, got %v", err)
		}
	})
}

func TestEncodingRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewEncodingRepository(pool)

	encoding := make([]float32, 128)
	for i := range encoding {
		encoding[i] = float32(i) / 128.0
	}

	t.Run("SaveAndLoad", func(t *testing.T) {
		if err := repo.SaveEncoding(ctx, "7A-01", encoding); err != nil {
			t.Fatalf("Failed to save encoding: %v", err)
		}
		got, err := repo.LoadEncoding(ctx, "7A-01")
		if err != nil {
			t.Fatalf("Failed to load encoding: %v", err)
		}
		if len(got) != 128 || got[127] != encoding[127] {
			t.Errorf("Unexpected encoding: len=%d", len(got))
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := repo.SaveEncoding(ctx, "7A-01", []float32{1, 2, 3}); err != nil {
			t.Fatalf("Failed to overwrite encoding: %v", err)
		}
		got, err := repo.LoadEncoding(ctx, "7A-01")
		if err != nil || len(got) != 3 {
			t.Errorf("Expected overwritten 3-value encoding, got %v, %v", got, err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if err := repo.SaveEncoding(ctx, "7A-09", nil); err == nil {
			t.Error("Expected error for empty encoding")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.LoadEncoding(ctx, "missing"); !errors.Is(err, database.ErrEncodingNotFound) {
			t.Errorf("Expected ErrEncodingNotFound, got %v", err)
		}
	})

	t.Run("Rename", func(t *testing.T) {
		if err := repo.RenameEncoding(ctx, "7A-01", "7B-01"); err != nil {
			t.Fatalf("Failed to rename encoding: %v", err)
		}
		if _, err := repo.LoadEncoding(ctx, "7A-01"); !errors.Is(err, database.ErrEncodingNotFound) {
			t.Errorf("Expected old roll to be gone, got %v", err)
		}
		if got, err := repo.LoadEncoding(ctx, "7B-01"); err != nil || len(got) != 3 {
			t.Errorf("Expected template under new roll, got %v, %v", got, err)
		}

		// Missing source is not an error.
		if err := repo.RenameEncoding(ctx, "missing", "7C-01"); err != nil {
			t.Errorf("Expected nil for missing source, got %v", err)
		}
	})

	t.Run("RenameOverTarget", func(t *testing.T) {
		if err := repo.SaveEncoding(ctx, "7C-02", []float32{9, 9}); err != nil {
			t.Fatalf("Failed to save encoding: %v", err)
		}
		if err := repo.RenameEncoding(ctx, "7B-01", "7C-02"); err != nil {
			t.Fatalf("Failed to rename onto existing roll: %v", err)
		}
		got, err := repo.LoadEncoding(ctx, "7C-02")
		if err != nil || len(got) != 3 {
			t.Errorf("Expected source template to replace target, got %v, %v", got, err)
		}
		if _, err := repo.LoadEncoding(ctx, "7B-01"); !errors.Is(err, database.ErrEncodingNotFound) {
			t.Errorf("Expected source roll to be gone, got %v", err)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		list, err := repo.ListEncodings(ctx)
		if err != nil {
			t.Fatalf("Failed to list encodings: %v", err)
		}
		if len(list) != 1 || list[0].Roll != "7C-02" || list[0].Dim != 3 {
			t.Errorf("Unexpected encodings: %+v", list)
		}

		if err := repo.DeleteEncoding(ctx, "7C-02"); err != nil {
			t.Fatalf("Failed to delete encoding: %v", err)
		}
		if err := repo.DeleteEncoding(ctx, "7C-02"); err != nil {
			t.Errorf("Expected nil deleting a missing roll, got %v", err)
		}
	})
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewAttendanceRepository(pool)
	const day = "2024-03-04"

	t.Run("InsertAndGet", func(t *testing.T) {
		rec := &database.AttendanceRecord{
			Roll: "7A-01", Name: "Alice", Class: "7A", Date: day, Time: "08:15:00",
			Teacher: "novak", Status: database.StatusPresent,
		}
		if err := repo.InsertRecord(ctx, rec); err != nil {
			t.Fatalf("Failed to insert record: %v", err)
		}
		if rec.ID == 0 {
			t.Error("Expected ID to be set")
		}

		got, err := repo.GetRecord(ctx, "7A-01", day)
		if err != nil {
			t.Fatalf("Failed to get record: %v", err)
		}
		if got == nil || got.Time != "08:15:00" || got.Teacher != "novak" || got.Status != database.StatusPresent {
			t.Errorf("Unexpected record: %+v", got)
		}

		missing, err := repo.GetRecord(ctx, "7A-01", "2024-03-05")
		if err != nil || missing != nil {
			t.Errorf("Expected nil, nil for another date, got %+v, %v", missing, err)
		}
	})

	t.Run("SeedAbsent", func(t *testing.T) {
		n, err := repo.SeedAbsent(ctx, day, []database.Student{
			{Roll: "7A-01", Name: "Alice", Class: "7A"},
			{Roll: "7A-02", Name: "Bob", Class: "7A"},
		})
		if err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected 1 seeded row, got %d", n)
		}
		got, _ := repo.GetRecord(ctx, "7A-02", day)
		if got == nil || got.Status != database.StatusAbsent || got.Time != "" {
			t.Errorf("Expected Absent row without time, got %+v", got)
		}
	})

	t.Run("ResetAndMark", func(t *testing.T) {
		n, err := repo.ResetDate(ctx, day)
		if err != nil {
			t.Fatalf("Failed to reset: %v", err)
		}
		if n != 2 {
			t.Errorf("Expected 2 rows reset, got %d", n)
		}

		if err := repo.MarkPresent(ctx, "7A-01", day, "09:30:00"); err != nil {
			t.Fatalf("Failed to mark present: %v", err)
		}
		got, _ := repo.GetRecord(ctx, "7A-01", day)
		if got.Status != database.StatusPresent || got.Time != "09:30:00" || got.Teacher != "novak" {
			t.Errorf("Expected Present at 09:30:00 with original teacher, got %+v", got)
		}
	})

	t.Run("MarkPresentMissingRow", func(t *testing.T) {
		err := repo.MarkPresent(ctx, "7A-99", day, "09:30:00")
		if !errors.Is(err, database.ErrRecordNotFound) {
			t.Errorf("Expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("ResetDateOnce", func(t *testing.T) {
		n, first, err := repo.ResetDateOnce(ctx, day)
		if err != nil || !first {
			t.Fatalf("Expected first reset to run, got %v, %v", first, err)
		}
		if n != 2 {
			t.Errorf("Expected 2 rows reset, got %d", n)
		}
		got, _ := repo.GetRecord(ctx, "7A-01", day)
		if got.Status != database.StatusAbsent {
			t.Errorf("Expected Absent after reset, got %+v", got)
		}

		if err := repo.MarkPresent(ctx, "7A-01", day, "10:00:00"); err != nil {
			t.Fatalf("Failed to mark present: %v", err)
		}
		n, second, err := repo.ResetDateOnce(ctx, day)
		if err != nil || second || n != 0 {
			t.Errorf("Expected second reset to be skipped, got %d, %v, %v", n, second, err)
		}
		got, _ = repo.GetRecord(ctx, "7A-01", day)
		if got.Status != database.StatusPresent {
			t.Errorf("Expected Present to survive a skipped reset, got %+v", got)
		}
	})

	t.Run("ResetDateOnceCanceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		if _, _, err := repo.ResetDateOnce(canceled, "2024-03-09"); err == nil {
			t.Fatal("Expected error for canceled context")
		}
		_, claimed, err := repo.ResetDateOnce(ctx, "2024-03-09")
		if err != nil || !claimed {
			t.Errorf("Expected the date to be claimable after a failed reset, got %v, %v", claimed, err)
		}
	})

	t.Run("ListRecords", func(t *testing.T) {
		other := &database.AttendanceRecord{
			Roll: "7B-01", Name: "Cyril", Class: "7B", Date: "2024-03-05", Time: "08:00:00",
			Teacher: "novak", Status: database.StatusPresent,
		}
		if err := repo.InsertRecord(ctx, other); err != nil {
			t.Fatalf("Failed to insert record: %v", err)
		}

		all, err := repo.ListRecords(ctx, database.AttendanceFilter{})
		if err != nil {
			t.Fatalf("Failed to list records: %v", err)
		}
		if len(all) != 3 || all[0].Date != "2024-03-05" {
			t.Errorf("Expected 3 records newest first, got %+v", all)
		}

		tests := []struct {
			name   string
			filter database.AttendanceFilter
			want   int
		}{
			{"date", database.AttendanceFilter{Date: day}, 2},
			{"from", database.AttendanceFilter{From: "2024-03-05"}, 1},
			{"to", database.AttendanceFilter{To: day}, 2},
			{"roll", database.AttendanceFilter{Roll: "7A-02"}, 1},
			{"class", database.AttendanceFilter{Class: "7B"}, 1},
			{"range and class", database.AttendanceFilter{From: day, To: "2024-03-05", Class: "7A"}, 2},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				got, err := repo.ListRecords(ctx, tc.filter)
				if err != nil {
					t.Fatalf("Failed to list records: %v", err)
				}
				if len(got) != tc.want {
					t.Errorf("Expected %d records, got %d", tc.want, len(got))
				}
			})
		}
	})
}

func TestSessionRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewSessionRepository(pool)
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.Save(ctx, "live", "novak", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	if err := repo.Save(ctx, "stale", "novak", now.Add(-2*time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	got, err := repo.Get(ctx, "live")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if got == nil || got.TeacherID != "novak" || !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Unexpected session: %+v", got)
	}

	if got, err := repo.Get(ctx, "stale"); err != nil || got != nil {
		t.Errorf("Expected expired session to be hidden, got %+v, %v", got, err)
	}

	n, err := repo.DeleteExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("Expected 1 expired session deleted, got %d, %v", n, err)
	}

	if err := repo.Delete(ctx, "live"); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if got, _ := repo.Get(ctx, "live"); got != nil {
		t.Error("Expected session to be deleted")
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	// Check migrations were applied
	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{
		"001_create_students.sql",
		"002_create_encodings.sql",
		"003_create_attendance.sql",
		"004_create_attendance_resets.sql",
		"005_create_sessions.sql",
	}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}

	// Migrating again is a no-op.
	if err := pool.Migrate(ctx); err != nil {
		t.Errorf("Second migration run failed: %v", err)
	}
}
