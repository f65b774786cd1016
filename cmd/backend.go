package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/filestore"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/detector"
	"github.com/kozaktomas/rollcall/internal/enrollment"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// app holds the services shared by all commands.
type app struct {
	cfg        *config.Config
	pool       *postgres.Pool
	index      *database.StoreIndex
	enrollment *enrollment.Service
	attendance *attendance.Service
}

// registerBackends registers the PostgreSQL repositories and the configured encoding store.
func registerBackends(cfg *config.Config, pool *postgres.Pool) error {
	studentRepo := postgres.NewStudentRepository(pool)
	attendanceRepo := postgres.NewAttendanceRepository(pool)
	database.RegisterPostgresBackend(
		func() database.StudentWriter { return studentRepo },
		func() database.AttendanceLedger { return attendanceRepo },
	)

	switch cfg.Storage.Encodings {
	case config.EncodingsFile:
		store, err := filestore.New(cfg.Storage.EncodingsDir)
		if err != nil {
			return fmt.Errorf("opening encoding directory: %w", err)
		}
		database.RegisterEncodingStore(func() database.EncodingStore { return store })
		fmt.Printf("Storing encodings in %s\n", cfg.Storage.EncodingsDir)
	default:
		encodingRepo := postgres.NewEncodingRepository(pool)
		database.RegisterEncodingStore(func() database.EncodingStore { return encodingRepo })
	}
	return nil
}

// initEncodingIndex builds or loads the encoding HNSW index used for look-alike checks.
func initEncodingIndex(ctx context.Context, cfg *config.Config, store database.EncodingStore) *database.StoreIndex {
	indexPath := cfg.Database.HNSWIndexPath
	if indexPath != "" {
		fmt.Printf("Loading encoding HNSW index from %s...\n", indexPath)
	}

	index := database.NewStoreIndex(database.NewEncodingIndex(cfg.Matching.Metric), store)
	if err := index.LoadOrRebuild(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build encoding HNSW index: %v\n", err)
		fmt.Printf("Look-alike checks are disabled\n")
		return nil
	}
	if indexPath != "" {
		fmt.Printf("Encoding HNSW index ready with %d templates (persisted to %s)\n", index.IndexCount(), indexPath)
	}
	database.RegisterIndexRebuilder(index)
	return index
}

// setupApp connects to PostgreSQL and wires the enrollment and attendance services.
// The HNSW index is only built when withIndex is set.
func setupApp(ctx context.Context, withIndex bool) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	pool := postgres.GetGlobalPool()
	if err := registerBackends(cfg, pool); err != nil {
		pool.Close()
		return nil, err
	}

	students, err := database.GetStudentWriter(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := database.GetAttendanceLedger(ctx)
	if err != nil {
		return nil, err
	}
	encodings, err := database.GetEncodingStore(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, pool: pool}

	var encodingIndex *database.EncodingIndex
	if withIndex {
		a.index = initEncodingIndex(ctx, cfg, encodings)
		if a.index != nil {
			encodingIndex = a.index.EncodingIndex
		}
	}

	client := detector.NewClient(cfg.Detector)
	a.enrollment = enrollment.NewService(
		students, encodings, client, encodingIndex, cfg.Storage.UploadsDir, cfg.Matching.Tolerance,
	)

	var seedSource database.StudentReader
	if cfg.Attendance.SeedAbsent {
		seedSource = students
	}
	reconciler := attendance.NewReconciler(ledger, seedSource, cfg.Attendance)
	a.attendance = attendance.NewService(client, students, encodings, facematch.NewMatcher(cfg.Matching), reconciler)

	return a, nil
}

// indexRebuilder returns the index as an IndexRebuilder, nil when no index was built.
func (a *app) indexRebuilder() database.IndexRebuilder {
	if a.index == nil {
		return nil
	}
	return a.index
}

func (a *app) close() {
	if err := a.pool.Close(); err != nil {
		fmt.Printf("Warning: failed to close database: %v\n", err)
	}
}
