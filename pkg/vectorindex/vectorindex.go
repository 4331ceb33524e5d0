// Package vectorindex implements the in-memory, cosine-similarity vector
// index (§4.5): add/remove/query over L2-normalized vectors with cached
// norms, a dimension frozen on first add, and duplicate-id overwrite.
// Structural shape (a map of documents, with locking left to the caller)
// grounded on pkg/session/manager.go's registry pattern; the similarity algorithm
// itself is new domain content with no teacher analogue.
package vectorindex

import (
	"context"
	"math"
	"sort"

	"github.com/nexops/kernelengine/pkg/errs"
)

// Embedder embeds a single piece of text into a vector — satisfied by
// embedding.Provider without importing it directly, keeping this package
// free of a dependency on the registry.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Document is one stored entry.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
	// vector and norm are kept unexported: vector is stored already
	// L2-normalized and norm is its pre-normalization magnitude, cached so
	// re-querying never recomputes it (§4.5: "the index may store
	// normalized vectors and cache the norm").
	vector []float32
	norm   float32
}

// AddInput is one document to add: either Text (embedded via the bound
// provider), Vector (used as-is, must match the frozen dimension), or
// both (§4.5 add invariant).
type AddInput struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// Result is one query hit.
type Result struct {
	ID       string
	Score    float32
	Metadata map[string]any
	Text     string
}

// QueryOptions configures Query.
type QueryOptions struct {
	K               int
	Threshold       float32
	IncludeMetadata bool
	IncludeText     bool
}

// Index is one live, in-process vector index. Not safe for concurrent use
// without external synchronization — callers (vectordb.Manager) hold the
// lock that also governs offload/resume for this index.
type Index struct {
	dimension int // 0 until the first add freezes it
	documents map[string]*Document
	order     []string // insertion order, for deterministic snapshotting
}

// New constructs an empty Index.
func New() *Index {
	return &Index{documents: make(map[string]*Document)}
}

// Dimension returns the frozen dimension, or 0 if no document has been
// added yet.
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Count returns the number of stored documents.
func (idx *Index) Count() int {
	return len(idx.documents)
}

// Add inserts or overwrites documents. The dimension is frozen on the
// first added vector; subsequent adds whose vector dimension disagrees are
// rejected with InvalidArgument, leaving the index unchanged for that
// document. Duplicate ids overwrite (§4.5 invariant).
func (idx *Index) Add(ctx context.Context, embedder Embedder, docs []AddInput) error {
	for _, d := range docs {
		vec, err := idx.resolveVector(ctx, embedder, d)
		if err != nil {
			return err
		}
		if idx.dimension == 0 {
			idx.dimension = len(vec)
		} else if len(vec) != idx.dimension {
			return errs.InvalidArgument(errDimensionMismatch(idx.dimension, len(vec)))
		}
		norm := l2Norm(vec)
		normalized := normalizeCopy(vec, norm)
		if _, exists := idx.documents[d.ID]; !exists {
			idx.order = append(idx.order, d.ID)
		}
		idx.documents[d.ID] = &Document{
			ID:       d.ID,
			Text:     d.Text,
			Metadata: d.Metadata,
			vector:   normalized,
			norm:     norm,
		}
	}
	return nil
}

func (idx *Index) resolveVector(ctx context.Context, embedder Embedder, d AddInput) ([]float32, error) {
	if d.Vector != nil {
		return d.Vector, nil
	}
	if d.Text == "" {
		return nil, errs.InvalidArgument(errNoVectorOrText(d.ID))
	}
	return embedder.Embed(ctx, d.Text)
}

// Remove deletes ids, silently skipping unknown ones (§4.5).
func (idx *Index) Remove(ids []string) {
	for _, id := range ids {
		if _, ok := idx.documents[id]; ok {
			delete(idx.documents, id)
			idx.removeFromOrder(id)
		}
	}
}

func (idx *Index) removeFromOrder(id string) {
	for i, o := range idx.order {
		if o == id {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			return
		}
	}
}

// Query embeds queryText (if queryVector is nil) via embedder, then
// returns the top results by descending cosine similarity, excluding
// scores below opts.Threshold, truncated to opts.K. Ties are broken by
// ascending document id (§4.5).
func (idx *Index) Query(ctx context.Context, embedder Embedder, queryText string, queryVector []float32, opts QueryOptions) ([]Result, error) {
	vec := queryVector
	if vec == nil {
		if queryText == "" {
			return nil, errs.InvalidArgument(errNoQueryInput())
		}
		v, err := embedder.Embed(ctx, queryText)
		if err != nil {
			return nil, err
		}
		vec = v
	}
	if idx.dimension != 0 && len(vec) != idx.dimension {
		return nil, errs.InvalidArgument(errDimensionMismatch(idx.dimension, len(vec)))
	}

	queryNorm := l2Norm(vec)
	normalizedQuery := normalizeCopy(vec, queryNorm)

	type scored struct {
		doc   *Document
		score float32
	}
	var all []scored
	for _, doc := range idx.documents {
		score := dot(normalizedQuery, doc.vector)
		if score < opts.Threshold {
			continue
		}
		all = append(all, scored{doc: doc, score: score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].doc.ID < all[j].doc.ID
	})

	k := opts.K
	if k <= 0 || k > len(all) {
		k = len(all)
	}
	out := make([]Result, 0, k)
	for _, s := range all[:k] {
		r := Result{ID: s.doc.ID, Score: s.score}
		if opts.IncludeMetadata {
			r.Metadata = s.doc.Metadata
		}
		if opts.IncludeText {
			r.Text = s.doc.Text
		}
		out = append(out, r)
	}
	return out, nil
}

// Documents returns a stable-order snapshot of every stored document,
// used by the offload store to serialize the index.
func (idx *Index) Documents() []*Document {
	out := make([]*Document, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.documents[id])
	}
	return out
}

// Vector returns d's L2-normalized stored vector.
func (d *Document) Vector() []float32 {
	return d.vector
}

// LoadFrozen rebuilds an Index from previously-offloaded documents, with
// already-normalized vectors and a known dimension — used by the offload
// store's resume path, which must not re-normalize (the stored vectors are
// already unit vectors).
func LoadFrozen(dimension int, docs []AddInput) *Index {
	idx := New()
	idx.dimension = dimension
	for _, d := range docs {
		idx.documents[d.ID] = &Document{ID: d.ID, Text: d.Text, Metadata: d.Metadata, vector: d.Vector, norm: 1}
		idx.order = append(idx.order, d.ID)
	}
	return idx
}

func l2Norm(v []float32) float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sumSq))
}

func normalizeCopy(v []float32, norm float32) []float32 {
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
