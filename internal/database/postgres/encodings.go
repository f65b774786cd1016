package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/pgvector/pgvector-go"
)

// EncodingRepository stores one face template per roll in a pgvector column.
type EncodingRepository struct {
	pool *Pool
}

// NewEncodingRepository creates a new PostgreSQL encoding repository.
func NewEncodingRepository(pool *Pool) *EncodingRepository {
	return &EncodingRepository{pool: pool}
}

// SaveEncoding stores a template for a roll (upsert).
func (r *EncodingRepository) SaveEncoding(ctx context.Context, roll string, encoding []float32) error {
	if len(encoding) == 0 {
		return fmt.Errorf("save encoding for %s: empty vector", roll)
	}
	vec := pgvector.NewVector(encoding)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO encodings (roll, embedding, dim, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (roll)
		DO UPDATE SET embedding = $2, dim = $3, updated_at = NOW()
	`, roll, vec, len(encoding))
	if err != nil {
		return fmt.Errorf("save encoding: %w", err)
	}
	return nil
}

// LoadEncoding retrieves the template for a roll.
func (r *EncodingRepository) LoadEncoding(ctx context.Context, roll string) ([]float32, error) {
	var vec pgvector.Vector
	var dim int
	err := r.pool.QueryRow(ctx, "SELECT embedding, dim FROM encodings WHERE roll = $1", roll).Scan(&vec, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrEncodingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load encoding: %w", err)
	}

	slice := vec.Slice()
	if len(slice) == 0 || len(slice) != dim {
		return nil, fmt.Errorf("%w: roll %s has %d values, expected %d", database.ErrEncodingCorrupt, roll, len(slice), dim)
	}
	return slice, nil
}

// RenameEncoding moves a template to a new roll, replacing any template already stored there.
// A missing source roll is not an error.
func (r *EncodingRepository) RenameEncoding(ctx context.Context, oldRoll, newRoll string) error {
	if oldRoll == newRoll {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	result, err := tx.ExecContext(ctx, `
		UPDATE encodings SET roll = $2, updated_at = NOW()
		WHERE roll = $1 AND NOT EXISTS (SELECT 1 FROM encodings WHERE roll = $2)
	`, oldRoll, newRoll)
	if err != nil {
		return fmt.Errorf("rename encoding: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either the source is missing or the target exists; overwrite the target in the latter case.
		if _, err := tx.ExecContext(ctx, `
			UPDATE encodings AS dst SET embedding = src.embedding, dim = src.dim, updated_at = NOW()
			FROM encodings AS src
			WHERE src.roll = $1 AND dst.roll = $2
		`, oldRoll, newRoll); err != nil {
			return fmt.Errorf("overwrite encoding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM encodings WHERE roll = $1", oldRoll); err != nil {
			return fmt.Errorf("delete renamed encoding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rename: %w", err)
	}
	return nil
}

// DeleteEncoding removes the template for a roll. A missing roll is not an error.
func (r *EncodingRepository) DeleteEncoding(ctx context.Context, roll string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM encodings WHERE roll = $1", roll); err != nil {
		return fmt.Errorf("delete encoding: %w", err)
	}
	return nil
}

// ListEncodings returns all stored templates ordered by roll.
func (r *EncodingRepository) ListEncodings(ctx context.Context) ([]database.StoredEncoding, error) {
	rows, err := r.pool.Query(ctx, "SELECT roll, embedding, dim, updated_at FROM encodings ORDER BY roll")
	if err != nil {
		return nil, fmt.Errorf("query encodings: %w", err)
	}
	defer rows.Close()

	var encodings []database.StoredEncoding
	for rows.Next() {
		var enc database.StoredEncoding
		var vec pgvector.Vector
		if err := rows.Scan(&enc.Roll, &vec, &enc.Dim, &enc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan encoding: %w", err)
		}
		enc.Encoding = vec.Slice()
		encodings = append(encodings, enc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate encodings: %w", err)
	}
	return encodings, nil
}
