package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// EncodingIndex wraps an HNSW graph over stored face templates, keyed by roll number.
// It answers "who does this face look like" without scanning every template.
//
// Removals are soft: the node stays in the graph and is filtered out by the vectors map.
// A roll that has to be replaced marks the graph stale and the next search rebuilds it.
type EncodingIndex struct {
	graph    *hnsw.Graph[string]
	distance DistanceFunc
	metric   string
	vectors  map[string][]float32 // live templates by roll
	mu       sync.RWMutex
	path     string // Path to save/load index
}

// NewEncodingIndex creates a new empty index for the given metric ("euclidean" or "cosine").
func NewEncodingIndex(metric string) *EncodingIndex {
	return &EncodingIndex{
		distance: DistanceFor(metric),
		metric:   metric,
		vectors:  make(map[string][]float32),
	}
}

func (h *EncodingIndex) newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	if h.metric == "cosine" {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// rebuildLocked builds a fresh graph from the live templates.
// Templates whose dimension differs from the first roll's are left out of the graph.
func (h *EncodingIndex) rebuildLocked() {
	if len(h.vectors) == 0 {
		h.graph = nil
		return
	}

	rolls := make([]string, 0, len(h.vectors))
	for roll := range h.vectors {
		rolls = append(rolls, roll)
	}
	sort.Strings(rolls)

	g := h.newGraph()
	dims := len(h.vectors[rolls[0]])
	for _, roll := range rolls {
		vec := h.vectors[roll]
		if len(vec) != dims {
			log.Printf("Warning: template for roll %s has %d dimensions, expected %d; not indexed", roll, len(vec), dims)
			continue
		}
		g.Add(hnsw.MakeNode(roll, vec))
	}
	h.graph = g
}

// ensureGraphLocked rebuilds a stale graph, or one where soft-deleted nodes outnumber live ones.
func (h *EncodingIndex) ensureGraphLocked() {
	switch {
	case h.graph == nil && len(h.vectors) > 0:
		h.rebuildLocked()
	case h.graph != nil && h.graph.Len() > 2*len(h.vectors):
		h.rebuildLocked()
	}
}

// BuildFromEncodings replaces the index contents with the given templates.
func (h *EncodingIndex) BuildFromEncodings(encodings []StoredEncoding) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.vectors = make(map[string][]float32, len(encodings))
	for _, enc := range encodings {
		if len(enc.Encoding) == 0 {
			continue
		}
		h.vectors[enc.Roll] = enc.Encoding
	}
	h.rebuildLocked()
}

// Put adds or replaces the template for a roll.
func (h *EncodingIndex) Put(roll string, encoding []float32) {
	if len(encoding) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.putLocked(roll, encoding)
}

func (h *EncodingIndex) putLocked(roll string, encoding []float32) {
	h.vectors[roll] = encoding
	if h.graph == nil {
		return
	}
	if dims := h.graph.Dims(); dims != 0 && dims != len(encoding) {
		h.graph = nil
		return
	}
	// The graph cannot replace a key in place.
	if _, exists := h.graph.Lookup(roll); exists {
		h.graph = nil
		return
	}
	h.graph.Add(hnsw.MakeNode(roll, encoding))
}

// Remove drops a roll from the index. Unknown rolls are ignored.
func (h *EncodingIndex) Remove(roll string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.vectors, roll)
}

// Rename moves a template from one roll to another.
func (h *EncodingIndex) Rename(oldRoll, newRoll string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	vec, ok := h.vectors[oldRoll]
	if !ok || oldRoll == newRoll {
		return
	}
	delete(h.vectors, oldRoll)
	h.putLocked(newRoll, vec)
}

// IndexMatch is a candidate returned by FindSimilar.
type IndexMatch struct {
	Roll     string
	Distance float64
}

// FindSimilar returns up to limit rolls whose template is within maxDistance of the query,
// nearest first. Distances are recomputed exactly; the graph only proposes candidates.
func (h *EncodingIndex) FindSimilar(query []float32, limit int, maxDistance float64) ([]IndexMatch, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.ensureGraphLocked()
	if h.graph == nil || h.graph.Len() == 0 || h.graph.Dims() != len(query) {
		return nil, nil
	}

	// Soft-deleted nodes take up candidate slots.
	k := limit*HNSWSearchMultiplier + (h.graph.Len() - len(h.vectors))
	neighbors := h.graph.Search(query, k)

	var matches []IndexMatch
	for _, n := range neighbors {
		live, ok := h.vectors[n.Key]
		if !ok || !slices.Equal(live, n.Value) {
			continue
		}
		d := h.distance(query, n.Value)
		if d <= maxDistance {
			matches = append(matches, IndexMatch{Roll: n.Key, Distance: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Roll < matches[j].Roll
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Count returns the number of indexed rolls.
func (h *EncodingIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// SetPath sets the path for saving the index.
func (h *EncodingIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// Save persists the index to disk. The graph is compacted first so the file holds only live rolls.
func (h *EncodingIndex) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path == "" {
		return nil // No path set
	}

	if h.graph == nil || h.graph.Len() != len(h.vectors) {
		h.rebuildLocked()
	}
	if h.graph == nil {
		// Remove existing file if index is empty (best-effort cleanup).
		_ = os.Remove(h.path)
		return nil
	}

	f, err := os.Create(h.path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return nil
}

// Load reads a previously saved graph from disk. A missing file is not an error.
// The loaded graph serves searches only after Retain confirms it matches the store.
func (h *EncodingIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // No index file, will build from encodings
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	h.graph = saved.Graph
	h.vectors = make(map[string][]float32)
	return nil
}

// Retain keeps the loaded graph when it holds exactly the given templates and reports whether it did.
func (h *EncodingIndex) Retain(encodings []StoredEncoding) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil || h.graph.Len() != len(encodings) {
		return false
	}
	vectors := make(map[string][]float32, len(encodings))
	for _, enc := range encodings {
		vec, ok := h.graph.Lookup(enc.Roll)
		if !ok || !slices.Equal(vec, enc.Encoding) {
			return false
		}
		vectors[enc.Roll] = enc.Encoding
	}
	h.vectors = vectors
	return true
}

// IsEmpty returns true if the index holds no templates and no graph.
func (h *EncodingIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && len(h.vectors) == 0
}

// Rebuild reloads the index from an encoding store.
func (h *EncodingIndex) Rebuild(ctx context.Context, store EncodingStore) error {
	encodings, err := store.ListEncodings(ctx)
	if err != nil {
		return fmt.Errorf("listing encodings: %w", err)
	}
	h.BuildFromEncodings(encodings)
	return nil
}

// StoreIndex binds an EncodingIndex to the store it mirrors and implements IndexRebuilder.
type StoreIndex struct {
	*EncodingIndex
	store EncodingStore
}

// NewStoreIndex creates an index rebuilder over store.
func NewStoreIndex(index *EncodingIndex, store EncodingStore) *StoreIndex {
	return &StoreIndex{EncodingIndex: index, store: store}
}

// RebuildIndex reloads the index from the encoding store
func (s *StoreIndex) RebuildIndex(ctx context.Context) error {
	return s.Rebuild(ctx, s.store)
}

// IndexCount returns the number of indexed rolls
func (s *StoreIndex) IndexCount() int {
	return s.Count()
}

// SaveIndex saves the index to disk if a path is configured
func (s *StoreIndex) SaveIndex() error {
	return s.Save()
}

// LoadOrRebuild loads a persisted graph from path and limits it to the rolls in the store.
// It rebuilds from the store when there is no usable file or the file is out of date.
func (s *StoreIndex) LoadOrRebuild(ctx context.Context, path string) error {
	encodings, err := s.store.ListEncodings(ctx)
	if err != nil {
		return fmt.Errorf("listing encodings: %w", err)
	}

	if path != "" {
		if err := s.Load(path); err != nil {
			log.Printf("Warning: %v, rebuilding", err)
		} else if len(encodings) > 0 && s.Retain(encodings) {
			return nil
		}
	}

	s.BuildFromEncodings(encodings)
	return nil
}
