// Package filestore keeps one face template file per roll number in a directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/rollcall/internal/database"
)

const fileExt = ".json"

// encodingFile is the on-disk format of a template.
type encodingFile struct {
	Roll     string    `json:"roll"`
	Dim      int       `json:"dim"`
	Encoding []float32 `json:"encoding"`
}

// Store is an EncodingStore backed by a directory of JSON files.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// New creates the directory if needed and returns a store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create encodings directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path maps a roll to its file. Percent-escaping keeps separators out of the
// file name and gives every roll a distinct file.
func (s *Store) path(roll string) string {
	return filepath.Join(s.dir, url.PathEscape(roll)+fileExt)
}

// SaveEncoding writes the template atomically via a temp file and rename.
func (s *Store) SaveEncoding(ctx context.Context, roll string, encoding []float32) error {
	if len(encoding) == 0 {
		return fmt.Errorf("save encoding for %s: empty vector", roll)
	}
	data, err := json.Marshal(encodingFile{Roll: roll, Dim: len(encoding), Encoding: encoding})
	if err != nil {
		return fmt.Errorf("marshal encoding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".encoding-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write encoding: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close encoding: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(roll)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store encoding: %w", err)
	}
	return nil
}

func (s *Store) read(path string) (*encodingFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path built from the store directory
	if errors.Is(err, fs.ErrNotExist) {
		return nil, database.ErrEncodingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read encoding: %w", err)
	}

	var f encodingFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrEncodingCorrupt, err)
	}
	if len(f.Encoding) == 0 || len(f.Encoding) != f.Dim {
		return nil, fmt.Errorf("%w: %d values, expected %d", database.ErrEncodingCorrupt, len(f.Encoding), f.Dim)
	}
	return &f, nil
}

// LoadEncoding reads the template for a roll.
func (s *Store) LoadEncoding(ctx context.Context, roll string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.read(s.path(roll))
	if err != nil {
		return nil, err
	}
	return f.Encoding, nil
}

// RenameEncoding moves a template file. A missing source is not an error.
func (s *Store) RenameEncoding(ctx context.Context, oldRoll, newRoll string) error {
	if oldRoll == newRoll {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read(s.path(oldRoll))
	if errors.Is(err, database.ErrEncodingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// Rewrite rather than rename so the roll inside the file follows the file name.
	f.Roll = newRoll
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal encoding: %w", err)
	}
	if err := os.WriteFile(s.path(newRoll), data, 0o600); err != nil {
		return fmt.Errorf("write renamed encoding: %w", err)
	}
	if err := os.Remove(s.path(oldRoll)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old encoding: %w", err)
	}
	return nil
}

// DeleteEncoding removes a template file. A missing roll is not an error.
func (s *Store) DeleteEncoding(ctx context.Context, roll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(roll)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete encoding: %w", err)
	}
	return nil
}

// ListEncodings returns every readable template ordered by roll. Corrupt files are skipped.
func (s *Store) ListEncodings(ctx context.Context) ([]database.StoredEncoding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read encodings directory: %w", err)
	}

	var encodings []database.StoredEncoding
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		f, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		info, _ := e.Info()
		enc := database.StoredEncoding{Roll: f.Roll, Encoding: f.Encoding, Dim: f.Dim}
		if info != nil {
			enc.UpdatedAt = info.ModTime()
		}
		encodings = append(encodings, enc)
	}

	slices.SortFunc(encodings, func(a, b database.StoredEncoding) int {
		return strings.Compare(a.Roll, b.Roll)
	})
	return encodings, nil
}
