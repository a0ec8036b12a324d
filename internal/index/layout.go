package index

import (
	"os"
	"path/filepath"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/fingerprint"
)

// Layout distinguishes the two on-disk index arrangements.
type Layout int

const (
	// LayoutPerFile keys one index directory per source file,
	// <parent>/<fingerprint>/, so renames never invalidate it.
	LayoutPerFile Layout = iota

	// LayoutMerged keeps one combined index for a whole source
	// directory under <dir>/.mini_rag_index/.
	LayoutMerged
)

func (l Layout) String() string {
	if l == LayoutMerged {
		return "merged"
	}
	return "per-file"
}

// Target is the resolved location of the index serving a query path.
type Target struct {
	// Path is the cleaned path the caller asked about.
	Path string

	Layout Layout

	// IndexDir holds index.hnsw, index.hnsw.meta, chunks.db and
	// manifest.json.
	IndexDir string

	// CollectionManifestPath is the merged-layout source inventory,
	// empty for per-file targets.
	CollectionManifestPath string

	// SourceDir is the directory whose files feed the index.
	SourceDir string

	// SourceFile is the single source of a per-file target. Empty when
	// the caller addressed an index directory directly, in which case
	// the index can be served but never rebuilt.
	SourceFile string
}

// ResolveTarget maps a query path to its index location.
//
// A regular file resolves to <parent>/<fingerprint>/, hashing the file
// now so edits are picked up by address change alone. A directory named
// like a fingerprint that already holds a manifest is treated as the
// index directory itself. Any other directory is a merged-layout
// collection.
func ResolveTarget(path string) (*Target, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, ragonerr.SourceUnavailable(clean, err)
	}

	if !info.IsDir() {
		fp, err := fingerprint.Fingerprint(clean)
		if err != nil {
			return nil, err
		}
		parent := filepath.Dir(clean)
		return &Target{
			Path:       clean,
			Layout:     LayoutPerFile,
			IndexDir:   filepath.Join(parent, fp),
			SourceDir:  parent,
			SourceFile: clean,
		}, nil
	}

	if fingerprint.IsFingerprint(filepath.Base(clean)) && hasManifest(clean) {
		return &Target{
			Path:      clean,
			Layout:    LayoutPerFile,
			IndexDir:  clean,
			SourceDir: filepath.Dir(clean),
		}, nil
	}

	return &Target{
		Path:                   clean,
		Layout:                 LayoutMerged,
		IndexDir:               filepath.Join(clean, MergedIndexDirName),
		CollectionManifestPath: filepath.Join(clean, ManifestFile),
		SourceDir:              clean,
	}, nil
}

func hasManifest(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}
