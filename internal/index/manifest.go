package index

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/renameio"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/fingerprint"
)

const (
	// SchemaVersion is bumped whenever the on-disk manifest shape
	// changes incompatibly.
	SchemaVersion = 1

	// ManifestFile names the manifest inside an index directory, and
	// the collection manifest inside a merged source directory.
	ManifestFile = "manifest.json"

	// MergedIndexDirName is the hidden directory holding the merged
	// index for a source directory.
	MergedIndexDirName = ".mini_rag_index"
)

// Manifest describes one built index: which source contents it covers
// and the parameters it was built with. It lives next to the vector
// graph and chunk store as manifest.json.
type Manifest struct {
	SchemaVersion  int       `json:"schema_version"`
	Fingerprints   []string  `json:"fingerprints"`
	Filename       string    `json:"filename,omitempty"`
	Chunks         int       `json:"chunks"`
	ChunkSize      int       `json:"chunk_size"`
	ChunkOverlap   int       `json:"chunk_overlap"`
	EmbeddingModel string    `json:"embedding_model"`
	BuiltAt        time.Time `json:"built_at"`
}

// Validate checks structural invariants common to both layouts.
func (m *Manifest) Validate() error {
	if m.SchemaVersion != SchemaVersion {
		return ragonerr.New(ragonerr.ErrCodeManifestInvalid,
			fmt.Sprintf("unsupported manifest schema version %d", m.SchemaVersion), nil)
	}
	if len(m.Fingerprints) == 0 {
		return ragonerr.New(ragonerr.ErrCodeManifestInvalid, "manifest lists no fingerprints", nil)
	}
	for _, fp := range m.Fingerprints {
		if !fingerprint.IsFingerprint(fp) {
			return ragonerr.New(ragonerr.ErrCodeManifestInvalid,
				fmt.Sprintf("malformed fingerprint %q", fp), nil)
		}
	}
	if m.Chunks < 0 {
		return ragonerr.New(ragonerr.ErrCodeManifestInvalid,
			fmt.Sprintf("negative chunk count %d", m.Chunks), nil)
	}
	if m.EmbeddingModel == "" {
		return ragonerr.New(ragonerr.ErrCodeManifestInvalid, "manifest missing embedding model", nil)
	}
	return nil
}

// FingerprintSet returns the covered fingerprints as a set.
func (m *Manifest) FingerprintSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Fingerprints))
	for _, fp := range m.Fingerprints {
		set[fp] = struct{}{}
	}
	return set
}

// ReadManifest loads and validates the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeManifestInvalid,
			fmt.Sprintf("read manifest %s", path), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeManifestInvalid,
			fmt.Sprintf("parse manifest %s", path), err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest atomically writes the manifest to path.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ragonerr.InternalError("encode manifest", err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return ragonerr.New(ragonerr.ErrCodeStoreWrite,
			fmt.Sprintf("write manifest %s", path), err)
	}
	return nil
}

// CollectionManifest inventories the sources behind a merged index. It
// serializes flat, with fingerprint keys alongside the fixed ones:
//
//	{"9e107d9d...": "report.pdf", "built_at": "...", "total_chunks": 42}
//
// Fingerprints are exactly 32 hex characters, so they can never collide
// with the fixed keys.
type CollectionManifest struct {
	Files       map[string]string
	BuiltAt     time.Time
	TotalChunks int
}

// SortedFingerprints returns the covered fingerprints in lexical order.
func (m *CollectionManifest) SortedFingerprints() []string {
	fps := make([]string, 0, len(m.Files))
	for fp := range m.Files {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}

func (m *CollectionManifest) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Files)+2)
	for fp, name := range m.Files {
		flat[fp] = name
	}
	flat["built_at"] = m.BuiltAt.UTC().Format(time.RFC3339)
	flat["total_chunks"] = m.TotalChunks
	return json.Marshal(flat)
}

func (m *CollectionManifest) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	m.Files = make(map[string]string, len(flat))
	for key, raw := range flat {
		switch key {
		case "built_at":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("built_at: %w", err)
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("built_at: %w", err)
			}
			m.BuiltAt = t
		case "total_chunks":
			if err := json.Unmarshal(raw, &m.TotalChunks); err != nil {
				return fmt.Errorf("total_chunks: %w", err)
			}
		default:
			if !fingerprint.IsFingerprint(key) {
				return fmt.Errorf("unexpected key %q", key)
			}
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return fmt.Errorf("fingerprint %s: %w", key, err)
			}
			m.Files[key] = name
		}
	}
	return nil
}

// ReadCollectionManifest loads the merged-layout inventory at path.
func ReadCollectionManifest(path string) (*CollectionManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeManifestInvalid,
			fmt.Sprintf("read collection manifest %s", path), err)
	}
	var m CollectionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeManifestInvalid,
			fmt.Sprintf("parse collection manifest %s", path), err)
	}
	return &m, nil
}

// WriteCollectionManifest atomically writes the inventory to path.
func WriteCollectionManifest(path string, m *CollectionManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ragonerr.InternalError("encode collection manifest", err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return ragonerr.New(ragonerr.ErrCodeStoreWrite,
			fmt.Sprintf("write collection manifest %s", path), err)
	}
	return nil
}
