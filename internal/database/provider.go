package database

import (
	"context"
	"fmt"
)

// IndexRebuilder is an interface for components that keep an in-memory encoding index
type IndexRebuilder interface {
	// RebuildIndex rebuilds the in-memory HNSW index
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of items in the HNSW index
	IndexCount() int
	// SaveIndex saves the current index to disk (if path configured)
	SaveIndex() error
}

var (
	postgresStudentWriter    func() StudentWriter
	postgresAttendanceLedger func() AttendanceLedger
	encodingStore            func() EncodingStore
	encodingIndexRebuilder   IndexRebuilder // Singleton for index rebuilding
	postgresInitialized      bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the cmd package to avoid import cycles.
func RegisterPostgresBackend(
	students func() StudentWriter,
	ledger func() AttendanceLedger,
) {
	postgresStudentWriter = students
	postgresAttendanceLedger = ledger
	postgresInitialized = true
}

// RegisterEncodingStore registers the encoding store constructor (PostgreSQL or file backed).
func RegisterEncodingStore(store func() EncodingStore) {
	encodingStore = store
}

// RegisterIndexRebuilder registers the encoding index rebuilder.
func RegisterIndexRebuilder(rebuilder IndexRebuilder) {
	encodingIndexRebuilder = rebuilder
}

// GetIndexRebuilder returns the registered index rebuilder, or nil if not registered.
func GetIndexRebuilder() IndexRebuilder {
	return encodingIndexRebuilder
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetStudentReader returns a StudentReader from the PostgreSQL backend
func GetStudentReader(ctx context.Context) (StudentReader, error) {
	return GetStudentWriter(ctx)
}

// GetStudentWriter returns a StudentWriter from the PostgreSQL backend
func GetStudentWriter(ctx context.Context) (StudentWriter, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresStudentWriter == nil {
		return nil, fmt.Errorf("PostgreSQL student writer not registered")
	}
	return postgresStudentWriter(), nil
}

// GetAttendanceLedger returns an AttendanceLedger from the PostgreSQL backend
func GetAttendanceLedger(ctx context.Context) (AttendanceLedger, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresAttendanceLedger == nil {
		return nil, fmt.Errorf("PostgreSQL attendance ledger not registered")
	}
	return postgresAttendanceLedger(), nil
}

// GetEncodingStore returns the registered EncodingStore
func GetEncodingStore(ctx context.Context) (EncodingStore, error) {
	if encodingStore == nil {
		return nil, fmt.Errorf("encoding store not registered")
	}
	return encodingStore(), nil
}
