package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/extract"
	"github.com/ragon-ai/ragon/internal/fingerprint"
)

// LoadOptions controls LoadOrBuild.
type LoadOptions struct {
	// Deps supplies the builder collaborators used for cold builds and
	// rebuilds. Embedder is required even for pure loads, because the
	// manifest's model is checked against it.
	Deps BuilderDeps

	// RebuildStale rebuilds a merged index whose source set drifted
	// from the manifest. When false the stale index is served as-is
	// with a warning.
	RebuildStale bool
}

// LoadInfo reports what LoadOrBuild did to satisfy the request.
type LoadInfo struct {
	// Built is true when an index was (re)built rather than loaded.
	Built bool

	// Stale is true when a drifted index was served anyway.
	Stale   bool
	Added   int
	Removed int

	// Renamed is true when only file names moved and the manifest was
	// rewritten without re-embedding.
	Renamed bool

	Warnings []string
}

// LoadOrBuild resolves path to its index, building it when absent and
// reconciling it with the sources when present.
//
// Content drives every decision. A per-file index lives under the
// source's fingerprint, so edited content resolves to a fresh directory
// and a rename leaves the index valid apart from the recorded filename,
// which is rewritten in place. A merged index compares the directory's
// fingerprint set against its manifest: equal sets with different names
// rewrite the collection manifest, drifted sets either rebuild or are
// served stale depending on RebuildStale. An index recorded under a
// different embedding model is always rebuilt.
func LoadOrBuild(ctx context.Context, path string, opts LoadOptions) (*Handle, *LoadInfo, error) {
	if opts.Deps.Embedder == nil {
		return nil, nil, ragonerr.New(ragonerr.ErrCodeConfigInvalid, "load requires an embedder", nil)
	}

	target, err := ResolveTarget(path)
	if err != nil {
		return nil, nil, err
	}
	info := &LoadInfo{}

	if _, err := os.Stat(target.IndexDir); err != nil {
		return buildAndOpen(ctx, target, opts, info)
	}

	h, err := Open(target.IndexDir)
	if err != nil {
		if !canRebuild(target) {
			return nil, nil, err
		}
		slog.Warn("index unreadable, rebuilding",
			"dir", target.IndexDir, "code", ragonerr.GetCode(err), "error", err)
		return buildAndOpen(ctx, target, opts, info)
	}

	if model := h.Manifest().EmbeddingModel; model != opts.Deps.Embedder.ModelName() {
		current := opts.Deps.Embedder.ModelName()
		h.Release()
		if !canRebuild(target) {
			return nil, nil, ragonerr.New(ragonerr.ErrCodeModelMismatch,
				fmt.Sprintf("index at %s was built with model %s, embedder uses %s",
					target.IndexDir, model, current), nil)
		}
		slog.Info("embedding model changed, rebuilding",
			"dir", target.IndexDir, "indexed_model", model, "current_model", current)
		return buildAndOpen(ctx, target, opts, info)
	}

	if target.Layout == LayoutPerFile {
		return reconcilePerFile(h, target, info)
	}
	return reconcileMerged(ctx, h, target, opts, info)
}

// canRebuild reports whether the target carries enough source
// information to rebuild its index.
func canRebuild(t *Target) bool {
	return t.Layout == LayoutMerged || t.SourceFile != ""
}

// Drift counts the sources added to and removed from target since the
// manifest was recorded. A per-file target drifts only when the file's
// content no longer matches; a bare index directory never drifts.
func Drift(target *Target, m *Manifest) (added, removed int, err error) {
	if target.Layout == LayoutMerged {
		current, err := fingerprint.DirectoryManifest(target.SourceDir)
		if err != nil {
			return 0, 0, err
		}
		added, removed = setDrift(current, m.FingerprintSet())
		return added, removed, nil
	}
	if target.SourceFile == "" {
		return 0, 0, nil
	}
	fp, err := fingerprint.Fingerprint(target.SourceFile)
	if err != nil {
		return 0, 0, err
	}
	if _, ok := m.FingerprintSet()[fp]; !ok {
		return 1, 1, nil
	}
	return 0, 0, nil
}

func setDrift(current map[string]string, indexed map[string]struct{}) (added, removed int) {
	for fp := range current {
		if _, ok := indexed[fp]; !ok {
			added++
		}
	}
	for fp := range indexed {
		if _, ok := current[fp]; !ok {
			removed++
		}
	}
	return added, removed
}

// reconcilePerFile fixes up the recorded filename after a rename. The
// index directory is named by content, so a loadable index here is
// fresh by construction.
func reconcilePerFile(h *Handle, target *Target, info *LoadInfo) (*Handle, *LoadInfo, error) {
	if target.SourceFile == "" {
		return h, info, nil
	}
	name := filepath.Base(target.SourceFile)
	if h.Manifest().Filename == name {
		return h, info, nil
	}

	updated := *h.Manifest()
	updated.Filename = name
	if err := WriteManifest(filepath.Join(target.IndexDir, ManifestFile), &updated); err != nil {
		h.Release()
		return nil, nil, err
	}
	h.manifest.Filename = name
	info.Renamed = true
	slog.Info("source renamed, manifest rewritten",
		"dir", target.IndexDir, "filename", name)
	return h, info, nil
}

// reconcileMerged compares the directory's current fingerprint set
// against the loaded manifest.
func reconcileMerged(ctx context.Context, h *Handle, target *Target, opts LoadOptions, info *LoadInfo) (*Handle, *LoadInfo, error) {
	current, err := fingerprint.DirectoryManifest(target.SourceDir)
	if err != nil {
		// Sources cannot be hashed right now. Serve what we have.
		slog.Warn("source scan failed, serving existing index",
			"dir", target.SourceDir, "error", err)
		info.Warnings = append(info.Warnings, err.Error())
		return h, info, nil
	}

	added, removed := setDrift(current, h.Manifest().FingerprintSet())

	if added == 0 && removed == 0 {
		if reconcileNames(target, current, h) {
			info.Renamed = true
		}
		return h, info, nil
	}

	if opts.RebuildStale {
		slog.Info("sources changed, rebuilding",
			"dir", target.IndexDir, "added", added, "removed", removed)
		h.Release()
		return buildAndOpen(ctx, target, opts, info)
	}

	info.Stale = true
	info.Added = added
	info.Removed = removed
	stale := ragonerr.StaleCache(target.Path, added, removed)
	info.Warnings = append(info.Warnings, stale.Error())
	slog.Warn("serving stale index",
		"path", target.Path, "added", added, "removed", removed,
		"code", ragonerr.GetCode(stale))
	return h, info, nil
}

// reconcileNames rewrites the collection manifest when source contents
// match the index but their names do not match the inventory on disk.
func reconcileNames(target *Target, current map[string]string, h *Handle) bool {
	if target.CollectionManifestPath == "" {
		return false
	}
	existing, err := ReadCollectionManifest(target.CollectionManifestPath)
	if err == nil && maps.Equal(existing.Files, current) {
		return false
	}
	cm := &CollectionManifest{
		Files:       current,
		BuiltAt:     h.Manifest().BuiltAt,
		TotalChunks: h.Manifest().Chunks,
	}
	if err := WriteCollectionManifest(target.CollectionManifestPath, cm); err != nil {
		slog.Warn("collection manifest rewrite failed",
			"path", target.CollectionManifestPath, "error", err)
		return false
	}
	slog.Info("sources renamed, collection manifest rewritten",
		"path", target.CollectionManifestPath)
	return true
}

func buildAndOpen(ctx context.Context, target *Target, opts LoadOptions, info *LoadInfo) (*Handle, *LoadInfo, error) {
	sources, err := targetSources(target)
	if err != nil {
		return nil, nil, err
	}

	builder, err := NewBuilder(opts.Deps)
	if err != nil {
		return nil, nil, err
	}
	res, err := builder.Build(ctx, BuildRequest{
		Sources:                sources,
		TargetDir:              target.IndexDir,
		CollectionManifestPath: target.CollectionManifestPath,
	})
	if err != nil {
		return nil, nil, err
	}
	info.Built = true
	info.Warnings = append(info.Warnings, res.Warnings...)

	h, err := Open(target.IndexDir)
	if err != nil {
		return nil, nil, err
	}
	return h, info, nil
}

func targetSources(t *Target) ([]string, error) {
	if t.Layout == LayoutPerFile {
		if t.SourceFile == "" {
			return nil, ragonerr.SourceUnavailable(t.Path,
				errors.New("index directory has no backing source file"))
		}
		return []string{t.SourceFile}, nil
	}
	sources, err := extract.ListSources(t.SourceDir)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ragonerr.SourceUnavailable(t.SourceDir, errors.New("no source files found"))
	}
	return sources, nil
}
