// Package offload implements the on-disk binary format for an offloaded
// vector index (§4.6/§3): a metadata.json + documents.json + vectors.bin
// triple per index, written atomically (stage to a temp path, then rename)
// and verified for consistency on load. The little-endian binary layout is
// spec-mandated, not a wire format any pack library already speaks, so this
// package is built directly on encoding/binary (documented in the
// project's dependency ledger as a deliberate standard-library choice).
package offload

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nexops/kernelengine/pkg/errs"
)

// Metadata mirrors "*.metadata.json" (§3).
type Metadata struct {
	Format             string    `json:"format"`
	DocumentCount      int       `json:"documentCount"`
	EmbeddingDimension int       `json:"embeddingDimension"`
	CreatedAt          time.Time `json:"createdAt"`
	OffloadedAt        time.Time `json:"offloadedAt"`
	Namespace          string    `json:"namespace"`
	Permission         string    `json:"permission"`
}

// DocumentRecord mirrors one "*.documents.json" entry (no vector).
type DocumentRecord struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Text     string         `json:"text,omitempty"`
}

// Snapshot is the full in-memory representation of an offloaded index.
type Snapshot struct {
	Metadata  Metadata
	Documents []DocumentRecord
	Vectors   [][]float32 // Vectors[i] corresponds to Documents[i]
}

const binaryFormat = "binary_v1"

// Store persists index snapshots under a base directory, three files per
// index sharing the "<namespace>:<id>" prefix (§3).
type Store struct {
	baseDir string
}

// NewStore constructs a Store rooted at baseDir. The directory is created
// lazily by Save.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) prefix(indexID string) string {
	return filepath.Join(s.baseDir, indexID)
}

// Save writes snap for indexID, staging each file to a temp path in the
// same directory and renaming into place so a partial failure (disk full,
// crash mid-write) leaves any prior on-disk state untouched (§4.6
// atomicity).
func (s *Store) Save(indexID string, snap Snapshot) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return errs.Internal(fmt.Errorf("offload: mkdir: %w", err))
	}

	if snap.Metadata.Format == "" {
		snap.Metadata.Format = binaryFormat
	}
	metaBytes, err := json.Marshal(snap.Metadata)
	if err != nil {
		return errs.Internal(fmt.Errorf("offload: marshal metadata: %w", err))
	}
	docsBytes, err := json.Marshal(snap.Documents)
	if err != nil {
		return errs.Internal(fmt.Errorf("offload: marshal documents: %w", err))
	}
	vectorsBytes, err := encodeVectors(snap.Documents, snap.Vectors, snap.Metadata.EmbeddingDimension)
	if err != nil {
		return err
	}

	prefix := s.prefix(indexID)
	if err := writeAtomic(prefix+".metadata.json", metaBytes); err != nil {
		return err
	}
	if err := writeAtomic(prefix+".documents.json", docsBytes); err != nil {
		return err
	}
	if err := writeAtomic(prefix+".vectors.bin", vectorsBytes); err != nil {
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Internal(fmt.Errorf("offload: write %s: %w", filepath.Base(path), err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errs.Internal(fmt.Errorf("offload: rename %s: %w", filepath.Base(path), err))
	}
	return nil
}

func encodeVectors(docs []DocumentRecord, vectors [][]float32, dimension int) ([]byte, error) {
	buf := make([]byte, 0, 8+len(docs)*(4+16+dimension*4))
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(docs)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(dimension))
	buf = append(buf, header[:]...)

	for i, doc := range docs {
		idBytes := []byte(doc.ID)
		var idLen [4]byte
		binary.LittleEndian.PutUint32(idLen[:], uint32(len(idBytes)))
		buf = append(buf, idLen[:]...)
		buf = append(buf, idBytes...)

		vec := vectors[i]
		if len(vec) != dimension {
			return nil, errs.Internal(fmt.Errorf("offload: document %q has vector of length %d, expected %d", doc.ID, len(vec), dimension))
		}
		for _, f := range vec {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			buf = append(buf, b[:]...)
		}
	}
	return buf, nil
}

// Load reads back a previously-saved snapshot, verifying that
// vectors.bin's count and per-row id sequence match documents.json
// (§4.6 invariant); any mismatch is a CorruptOffload error.
func (s *Store) Load(indexID string) (Snapshot, error) {
	prefix := s.prefix(indexID)

	metaBytes, err := os.ReadFile(prefix + ".metadata.json")
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, errs.NotFound(indexID)
		}
		return Snapshot{}, errs.Internal(fmt.Errorf("offload: read metadata: %w", err))
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("invalid metadata.json: %w", err))
	}

	docsBytes, err := os.ReadFile(prefix + ".documents.json")
	if err != nil {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("read documents.json: %w", err))
	}
	var docs []DocumentRecord
	if err := json.Unmarshal(docsBytes, &docs); err != nil {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("invalid documents.json: %w", err))
	}

	f, err := os.Open(prefix + ".vectors.bin")
	if err != nil {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("read vectors.bin: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Snapshot{}, corrupt(indexID, err)
	}

	r := bufio.NewReader(f)
	var header [8]byte
	if _, err := readFull(r, header[:]); err != nil {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("short header: %w", err))
	}
	count := binary.LittleEndian.Uint32(header[0:4])
	dimension := binary.LittleEndian.Uint32(header[4:8])

	if int(count) != len(docs) {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("vectors.bin count %d does not match documents.json length %d", count, len(docs)))
	}
	if info.Size() < int64(8) {
		return Snapshot{}, corrupt(indexID, fmt.Errorf("vectors.bin too short"))
	}

	vectors := make([][]float32, count)
	for i := 0; i < int(count); i++ {
		var idLenBytes [4]byte
		if _, err := readFull(r, idLenBytes[:]); err != nil {
			return Snapshot{}, corrupt(indexID, fmt.Errorf("short id length at row %d: %w", i, err))
		}
		idLen := binary.LittleEndian.Uint32(idLenBytes[:])
		idBytes := make([]byte, idLen)
		if _, err := readFull(r, idBytes); err != nil {
			return Snapshot{}, corrupt(indexID, fmt.Errorf("short id bytes at row %d: %w", i, err))
		}
		if string(idBytes) != docs[i].ID {
			return Snapshot{}, corrupt(indexID, fmt.Errorf("row %d id %q does not match documents.json id %q", i, idBytes, docs[i].ID))
		}

		vec := make([]float32, dimension)
		for j := uint32(0); j < dimension; j++ {
			var b [4]byte
			if _, err := readFull(r, b[:]); err != nil {
				return Snapshot{}, corrupt(indexID, fmt.Errorf("short vector data at row %d: %w", i, err))
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[:]))
		}
		vectors[i] = vec
	}

	return Snapshot{Metadata: meta, Documents: docs, Vectors: vectors}, nil
}

func corrupt(indexID string, cause error) error {
	return errs.CorruptOffload(indexID, cause)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// List returns the index ids offloaded under namespace (all namespaces if
// empty), derived from the "*.metadata.json" files present.
func (s *Store) List(namespace string) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Internal(fmt.Errorf("offload: list: %w", err))
	}
	var out []string
	const suffix = ".metadata.json"
	for _, e := range entries {
		name := e.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		id := name[:len(name)-len(suffix)]
		if namespace != "" {
			nsPrefix := namespace + ":"
			if len(id) <= len(nsPrefix) || id[:len(nsPrefix)] != nsPrefix {
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// Delete removes all three files for indexID. Missing files are not an
// error.
func (s *Store) Delete(indexID string) error {
	prefix := s.prefix(indexID)
	for _, suffix := range []string{".metadata.json", ".documents.json", ".vectors.bin"} {
		if err := os.Remove(prefix + suffix); err != nil && !os.IsNotExist(err) {
			return errs.Internal(fmt.Errorf("offload: delete %s: %w", suffix, err))
		}
	}
	return nil
}
