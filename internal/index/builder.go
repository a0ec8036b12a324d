// Package index builds, opens and reconciles content-addressed vector
// indexes. An index directory pairs an HNSW graph with a SQLite chunk
// store and a manifest naming the source fingerprints it covers, so
// freshness is a set comparison rather than an mtime guess.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/ragon-ai/ragon/internal/chunk"
	"github.com/ragon-ai/ragon/internal/embed"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/extract"
	"github.com/ragon-ai/ragon/internal/fingerprint"
	"github.com/ragon-ai/ragon/internal/store"
	"github.com/ragon-ai/ragon/internal/ui"
)

// lockRetryDelay paces lock acquisition attempts when another process
// is building the same index.
const lockRetryDelay = 100 * time.Millisecond

// BuilderDeps carries the collaborators a Builder needs. Embedder is
// required; zero values elsewhere select defaults.
type BuilderDeps struct {
	Embedder  embed.Embedder
	Extractor extract.Provider
	Renderer  ui.Renderer

	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// BuildRequest names the sources to index and where the result goes.
type BuildRequest struct {
	Sources   []string
	TargetDir string

	// CollectionManifestPath, when set, is rewritten after a
	// successful swap. Merged-layout builds use it to publish the
	// source inventory next to the index.
	CollectionManifestPath string
}

// BuildResult reports what a build produced.
type BuildResult struct {
	Manifest *Manifest
	IndexDir string
	Warnings []string
	Duration time.Duration
}

// Builder turns source files into an index directory. It is stateless
// across builds and safe to reuse.
type Builder struct {
	embedder     embed.Embedder
	extractor    extract.Provider
	renderer     ui.Renderer
	chunkSize    int
	chunkOverlap int
	batchSize    int
}

func NewBuilder(deps BuilderDeps) (*Builder, error) {
	if deps.Embedder == nil {
		return nil, ragonerr.New(ragonerr.ErrCodeConfigInvalid, "builder requires an embedder", nil)
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.NewTextProvider()
	}
	if deps.Renderer == nil {
		deps.Renderer = ui.Discard()
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = chunk.DefaultSize
	}
	if deps.ChunkOverlap <= 0 {
		deps.ChunkOverlap = chunk.DefaultOverlap
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = embed.DefaultBatchSize
	}
	if deps.ChunkOverlap >= deps.ChunkSize {
		return nil, ragonerr.New(ragonerr.ErrCodeConfigInvalid,
			fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", deps.ChunkOverlap, deps.ChunkSize), nil)
	}
	return &Builder{
		embedder:     deps.Embedder,
		extractor:    deps.Extractor,
		renderer:     deps.Renderer,
		chunkSize:    deps.ChunkSize,
		chunkOverlap: deps.ChunkOverlap,
		batchSize:    deps.BatchSize,
	}, nil
}

type sourceDoc struct {
	path string
	fp   string
	doc  *extract.Document
}

// Build indexes the requested sources into a staging directory and
// atomically swaps it into place. A file lock next to the target
// serializes concurrent builds of the same index across processes.
// Unreadable and duplicate-content sources are skipped with a warning;
// the build fails only when nothing at all could be indexed.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	start := time.Now()
	if len(req.Sources) == 0 {
		return nil, ragonerr.ValidationError("build requires at least one source", nil)
	}
	if req.TargetDir == "" {
		return nil, ragonerr.ValidationError("build requires a target directory", nil)
	}

	if err := os.MkdirAll(filepath.Dir(req.TargetDir), 0o755); err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "create index parent directory", err)
	}

	lock := flock.New(req.TargetDir + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite,
			fmt.Sprintf("lock index %s", req.TargetDir), err)
	}
	defer lock.Unlock()

	// Leftovers from builds that died before their swap.
	removeStaleArtifacts(req.TargetDir)

	rend := b.renderer
	_ = rend.Start(ctx)
	defer func() { _ = rend.Stop() }()

	var timings ui.StageTimings
	var warnings []string

	warn := func(src string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", src, err))
		rend.AddError(ui.ErrorEvent{Source: src, Err: err, IsWarn: true})
	}

	// Fingerprint sources, dropping duplicates by content.
	stageStart := time.Now()
	ordered := append([]string(nil), req.Sources...)
	sort.Slice(ordered, func(i, j int) bool {
		return filepath.Base(ordered[i]) < filepath.Base(ordered[j])
	})

	seen := make(map[string]string, len(ordered))
	docs := make([]sourceDoc, 0, len(ordered))
	for i, src := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := filepath.Base(src)
		rend.UpdateProgress(ui.ProgressEvent{
			Stage: ui.StageFingerprint, Current: i + 1, Total: len(ordered), Source: base,
		})
		fp, err := fingerprint.Fingerprint(src)
		if err != nil {
			warn(base, err)
			continue
		}
		if prev, dup := seen[fp]; dup {
			warn(base, fmt.Errorf("same content as %s, skipped", prev))
			continue
		}
		seen[fp] = base
		docs = append(docs, sourceDoc{path: src, fp: fp})
	}
	timings.Fingerprint = time.Since(stageStart)

	// Extract text.
	stageStart = time.Now()
	extracted := make([]sourceDoc, 0, len(docs))
	for i, sd := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rend.UpdateProgress(ui.ProgressEvent{
			Stage: ui.StageExtract, Current: i + 1, Total: len(docs), Source: filepath.Base(sd.path),
		})
		doc, err := b.extractor.Extract(ctx, sd.path)
		if err != nil {
			warn(filepath.Base(sd.path), err)
			continue
		}
		sd.doc = doc
		extracted = append(extracted, sd)
	}
	timings.Extract = time.Since(stageStart)

	if len(extracted) == 0 {
		return nil, ragonerr.SourceUnavailable(req.TargetDir, errors.New("no readable sources"))
	}

	// Chunk. Keys are assigned globally so they match graph nodes.
	stageStart = time.Now()
	splitter := chunk.NewSplitter(b.chunkSize, b.chunkOverlap)
	var records []store.ChunkRecord
	var texts []string
	key := uint64(1)
	for i, sd := range extracted {
		rend.UpdateProgress(ui.ProgressEvent{
			Stage: ui.StageChunk, Current: i + 1, Total: len(extracted), Source: filepath.Base(sd.path),
		})
		for _, c := range splitter.SplitDocument(sd.doc) {
			records = append(records, store.ChunkRecord{
				Key: key, Source: c.Source, Page: c.Page, Ordinal: c.Ordinal, Content: c.Text,
			})
			texts = append(texts, c.Text)
			key++
		}
	}
	timings.Chunk = time.Since(stageStart)

	if len(records) == 0 {
		warn(filepath.Base(req.TargetDir), errors.New("sources contained no extractable text"))
	}

	// Embed in batches. Any failure aborts the build; a partial index
	// must never reach the target directory.
	stageStart = time.Now()
	vectors := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(offset+b.batchSize, len(texts))
		batch, err := b.embedder.EmbedBatch(ctx, texts[offset:end])
		if err != nil {
			return nil, ragonerr.EmbeddingFailure(err)
		}
		vectors = append(vectors, batch...)
		rend.UpdateProgress(ui.ProgressEvent{
			Stage: ui.StageEmbed, Current: len(vectors), Total: len(texts),
		})
	}
	timings.Embed = time.Since(stageStart)

	dims := b.embedder.Dimensions()
	if dims <= 0 && len(vectors) > 0 {
		dims = len(vectors[0])
	}
	if dims <= 0 {
		dims = embed.StaticDimensions
	}

	// Stage everything beside the target, then swap.
	stageStart = time.Now()
	rend.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageIndex, Current: 0, Total: len(records), Message: "writing vector graph",
	})
	staging := fmt.Sprintf("%s.tmp-%d", req.TargetDir, os.Getpid())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "create staging directory", err)
	}
	discard := func() { _ = os.RemoveAll(staging) }

	manifest, err := b.writeStaged(ctx, staging, extracted, records, vectors, dims)
	if err != nil {
		discard()
		return nil, err
	}
	if req.CollectionManifestPath == "" && len(extracted) == 1 {
		manifest.Filename = filepath.Base(extracted[0].path)
	}
	if err := WriteManifest(filepath.Join(staging, ManifestFile), manifest); err != nil {
		discard()
		return nil, err
	}
	timings.Index = time.Since(stageStart)

	if err := swap(staging, req.TargetDir); err != nil {
		discard()
		return nil, err
	}

	if req.CollectionManifestPath != "" {
		cm := &CollectionManifest{
			Files:       make(map[string]string, len(extracted)),
			BuiltAt:     manifest.BuiltAt,
			TotalChunks: manifest.Chunks,
		}
		for _, sd := range extracted {
			cm.Files[sd.fp] = filepath.Base(sd.path)
		}
		if err := WriteCollectionManifest(req.CollectionManifestPath, cm); err != nil {
			return nil, err
		}
	}

	duration := time.Since(start)
	rend.Complete(ui.CompletionStats{
		Sources:  len(extracted),
		Chunks:   len(records),
		Duration: duration,
		Warnings: len(warnings),
		Stages:   timings,
		Embedder: ui.EmbedderInfo{
			Backend:    backendName(b.embedder),
			Model:      b.embedder.ModelName(),
			Dimensions: dims,
		},
	})
	slog.Info("index built",
		"dir", req.TargetDir,
		"sources", len(extracted),
		"chunks", len(records),
		"model", manifest.EmbeddingModel,
		"duration_ms", duration.Milliseconds())

	return &BuildResult{
		Manifest: manifest,
		IndexDir: req.TargetDir,
		Warnings: warnings,
		Duration: duration,
	}, nil
}

// writeStaged materializes the graph, chunk store and manifest fields
// in the staging directory.
func (b *Builder) writeStaged(ctx context.Context, staging string, extracted []sourceDoc, records []store.ChunkRecord, vectors [][]float32, dims int) (*Manifest, error) {
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return nil, ragonerr.InternalError("create vector store", err)
	}
	keys := make([]uint64, len(records))
	for i := range records {
		keys[i] = records[i].Key
	}
	if err := vs.Add(ctx, keys, vectors); err != nil {
		vs.Close()
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "stage vectors", err)
	}
	if err := vs.Save(filepath.Join(staging, store.VectorFile)); err != nil {
		vs.Close()
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "write vector graph", err)
	}
	if err := vs.Close(); err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "close vector store", err)
	}

	cs, err := store.OpenChunkStore(filepath.Join(staging, store.ChunksFile))
	if err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "create chunk store", err)
	}
	if err := cs.Put(ctx, records); err != nil {
		cs.Close()
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "stage chunks", err)
	}
	if err := cs.Flush(); err != nil {
		cs.Close()
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "flush chunk store", err)
	}
	if err := cs.Close(); err != nil {
		return nil, ragonerr.New(ragonerr.ErrCodeStoreWrite, "close chunk store", err)
	}

	fps := make([]string, 0, len(extracted))
	for _, sd := range extracted {
		fps = append(fps, sd.fp)
	}
	sort.Strings(fps)

	return &Manifest{
		SchemaVersion:  SchemaVersion,
		Fingerprints:   fps,
		Chunks:         len(records),
		ChunkSize:      b.chunkSize,
		ChunkOverlap:   b.chunkOverlap,
		EmbeddingModel: b.embedder.ModelName(),
		BuiltAt:        time.Now().UTC(),
	}, nil
}

// swap retires any previous index and renames the staged one into
// place, restoring the old index if activation fails.
func swap(staging, target string) error {
	old := fmt.Sprintf("%s.old-%d", target, os.Getpid())
	hadOld := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, old); err != nil {
			return ragonerr.New(ragonerr.ErrCodeStoreWrite, "retire previous index", err)
		}
		hadOld = true
	}
	if err := os.Rename(staging, target); err != nil {
		if hadOld {
			_ = os.Rename(old, target)
		}
		return ragonerr.New(ragonerr.ErrCodeStoreWrite, "activate staged index", err)
	}
	if hadOld {
		_ = os.RemoveAll(old)
	}
	return nil
}

// removeStaleArtifacts clears staging and retirement directories left
// by builds that died mid-flight. Callers hold the build lock.
func removeStaleArtifacts(target string) {
	for _, pattern := range []string{target + ".tmp-*", target + ".old-*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err == nil {
				slog.Debug("removed stale build artifact", "path", m)
			}
		}
	}
}

func backendName(e embed.Embedder) string {
	if cached, ok := e.(*embed.CachedEmbedder); ok {
		e = cached.Inner()
	}
	switch e.(type) {
	case *embed.StaticEmbedder:
		return "static"
	case *embed.OllamaEmbedder:
		return "ollama"
	default:
		return "custom"
	}
}
