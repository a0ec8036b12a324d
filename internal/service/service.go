// Package service is the long-lived query service: one resident cache
// of indexes, one process-wide embedder, and the operations the HTTP,
// MCP and CLI bindings share.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ragon-ai/ragon/internal/cache"
	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/embed"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/extract"
	"github.com/ragon-ai/ragon/internal/fingerprint"
	"github.com/ragon-ai/ragon/internal/index"
	"github.com/ragon-ai/ragon/internal/shard"
	"github.com/ragon-ai/ragon/internal/telemetry"
	"github.com/ragon-ai/ragon/internal/watch"
)

// Service owns the resident cache, the embedder and the multi-shard
// engine. It is safe for concurrent use.
type Service struct {
	cfg      *config.Config
	cache    *cache.Cache
	embedder embed.Embedder
	engine   *shard.Engine
	watcher  *watch.Watcher
	started  time.Time
}

// New builds the service: acquires the process embedder, wires the
// cache's load function to the index loader and starts the staleness
// watcher. The watcher is best-effort; a host without inotify still
// serves queries, just without stale marking.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	embedder, err := embed.Acquire(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	deps := index.BuilderDeps{
		Embedder:     embedder,
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		BatchSize:    cfg.Index.BatchSize,
	}
	c := cache.New(func(ctx context.Context, path string, rebuildStale bool) (*index.Handle, *index.LoadInfo, error) {
		return index.LoadOrBuild(ctx, path, index.LoadOptions{Deps: deps, RebuildStale: rebuildStale})
	})

	s := &Service{
		cfg:      cfg,
		cache:    c,
		embedder: embedder,
		engine:   shard.NewEngine(c, embedder),
		started:  time.Now(),
	}
	telemetry.SetResidentCount(c.Len)

	w, err := watch.New(c.MarkDirty, watch.DefaultDebounce)
	if err != nil {
		slog.Warn("staleness watching disabled", "error", err)
	} else {
		s.watcher = w
		w.Start(ctx)
	}

	return s, nil
}

// Preload warms the cache with the configured collection so the first
// external query is a hit. Failures are logged, never fatal.
func (s *Service) Preload(ctx context.Context) {
	path := s.cfg.Server.PreloadPath
	if path == "" {
		return
	}
	start := time.Now()
	lease, err := s.cache.GetOrLoad(ctx, path)
	if err != nil {
		slog.Warn("preload failed, will load on first query", "path", path, "error", err)
		return
	}
	defer lease.Release()
	s.watchPath(path)
	slog.Info("preloaded collection",
		"path", path,
		"docs", lease.Handle.DocCount(),
		"elapsed_ms", time.Since(start).Milliseconds())
}

// Close stops the watcher and releases every resident index.
func (s *Service) Close() error {
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	return s.cache.Close()
}

// Source is one retrieved passage in a query response.
type Source struct {
	Content  string         `json:"content"`
	Metadata SourceMetadata `json:"metadata"`
}

// SourceMetadata locates a passage in its source document.
type SourceMetadata struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// QueryResult is the response of a single-index query.
type QueryResult struct {
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	LoadTime      float64  `json:"load_time_seconds"`
	RetrievalTime float64  `json:"retrieval_time_seconds"`
	FromCache     bool     `json:"from_cache"`
}

// Query loads the index for path (building it if needed), embeds the
// question and returns the top k passages. An empty path falls back to
// the configured preload collection.
func (s *Service) Query(ctx context.Context, path, question string, k int) (*QueryResult, error) {
	path, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, ragonerr.ValidationError("question is required", nil)
	}
	if k <= 0 {
		k = s.cfg.Query.TopK
	}
	if k <= 0 {
		k = config.DefaultTopK
	}

	started := time.Now()
	lease, err := s.cache.GetOrLoad(ctx, path)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	if !lease.FromCache {
		telemetry.ObserveLoad(lease.LoadTime)
		s.watchPath(path)
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, ragonerr.EmbeddingFailure(err)
	}

	retrievalStart := time.Now()
	results, err := lease.Handle.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	retrieval := time.Since(retrievalStart)
	telemetry.ObserveQuery(lease.FromCache, time.Since(started))

	out := &QueryResult{
		Answer:        renderAnswer(results),
		Sources:       make([]Source, 0, len(results)),
		LoadTime:      lease.LoadTime.Seconds(),
		RetrievalTime: retrieval.Seconds(),
		FromCache:     lease.FromCache,
	}
	for _, r := range results {
		out.Sources = append(out.Sources, Source{
			Content: r.Chunk.Content,
			Metadata: SourceMetadata{
				Source: r.Chunk.Source,
				Page:   r.Chunk.Page,
			},
		})
	}
	return out, nil
}

// MultiQuery runs the request through the fan-out engine with config
// defaults filled in for unset fields.
func (s *Service) MultiQuery(ctx context.Context, req shard.Request) (*shard.Response, error) {
	if req.KPerShard <= 0 {
		req.KPerShard = s.cfg.Multi.KPerShard
	}
	if req.MaxWorkers <= 0 {
		req.MaxWorkers = s.cfg.Multi.MaxWorkers
	}
	if req.ShardTimeout <= 0 {
		req.ShardTimeout = s.cfg.ShardTimeout()
	}
	return s.engine.MultiQuery(ctx, req)
}

// ReloadResult is the response of a forced reload.
type ReloadResult struct {
	OK        bool    `json:"ok"`
	Path      string  `json:"path"`
	LoadTime  float64 `json:"load_time_seconds"`
	DocsCount int     `json:"docs_count"`
}

// Reload force-rebuilds the index for path and swaps it in. In-flight
// queries finish against the old handle. An empty path falls back to
// the configured preload collection.
func (s *Service) Reload(ctx context.Context, path string) (*ReloadResult, error) {
	path, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}
	lease, err := s.cache.Reload(ctx, path)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	telemetry.ObserveLoad(lease.LoadTime)
	s.watchPath(path)

	return &ReloadResult{
		OK:        true,
		Path:      path,
		LoadTime:  lease.LoadTime.Seconds(),
		DocsCount: lease.Handle.DocCount(),
	}, nil
}

// Evict drops the resident index for path. Returns NotResident when
// nothing was cached for it.
func (s *Service) Evict(path string) error {
	if s.watcher != nil {
		s.watcher.Unwatch(path)
	}
	if !s.cache.Evict(path) {
		return ragonerr.New(ragonerr.ErrCodeNotResident,
			fmt.Sprintf("not cached: %s", path), nil)
	}
	return nil
}

// EvictAll drops every resident index and returns how many there were.
func (s *Service) EvictAll() int {
	if s.watcher != nil {
		for _, p := range s.cache.Paths() {
			s.watcher.Unwatch(p)
		}
	}
	return s.cache.EvictAll()
}

// CacheStats returns the resident-cache view.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Health is the root-endpoint payload.
type Health struct {
	Service     string   `json:"service"`
	Status      string   `json:"status"`
	CachedCount int      `json:"cached_count"`
	Paths       []string `json:"paths"`
}

// Health reports the service identity and what is resident.
func (s *Service) Health() Health {
	paths := s.cache.Paths()
	return Health{
		Service:     "ragon",
		Status:      "running",
		CachedCount: len(paths),
		Paths:       paths,
	}
}

// SourceStatus describes one source file of a collection.
type SourceStatus struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	SizeBytes   int64  `json:"size_bytes"`

	// Status is "built" when an index covers the file's current
	// content, "stale" when only an outdated merged index exists,
	// "missing" otherwise.
	Status string `json:"status"`
}

// SourcesReport lists a collection's sources and index coverage.
type SourcesReport struct {
	Path    string         `json:"path"`
	Sources []SourceStatus `json:"sources"`
	Orphans int            `json:"orphans"`
}

// ListSources inspects a collection directory without loading any
// index: which sources exist, whether their content is covered by a
// per-file or merged index, and how many orphaned index directories
// a reclaim pass would remove. It needs no embedder and never touches
// the cache.
func ListSources(ctx context.Context, dir string) (*SourcesReport, error) {
	sources, err := extract.ListSources(dir)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]bool)
	hasMerged := false
	if cm, err := index.ReadCollectionManifest(filepath.Join(dir, index.ManifestFile)); err == nil {
		hasMerged = true
		for fp := range cm.Files {
			merged[fp] = true
		}
	}

	report := &SourcesReport{Path: dir, Sources: make([]SourceStatus, 0, len(sources))}
	live := make(map[string]bool, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fp, err := fingerprint.Fingerprint(src)
		if err != nil {
			return nil, err
		}
		live[fp] = true

		var size int64
		if info, err := os.Stat(src); err == nil {
			size = info.Size()
		}

		status := "missing"
		switch {
		case hasPerFileIndex(dir, fp) || merged[fp]:
			status = "built"
		case hasMerged:
			status = "stale"
		}

		report.Sources = append(report.Sources, SourceStatus{
			Name:        filepath.Base(src),
			Fingerprint: fp,
			SizeBytes:   size,
			Status:      status,
		})
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ragonerr.SourceUnavailable(dir, err)
	}
	for _, ent := range entries {
		if !ent.IsDir() || !fingerprint.IsFingerprint(ent.Name()) {
			continue
		}
		if !hasPerFileIndex(dir, ent.Name()) {
			continue
		}
		if !live[ent.Name()] {
			report.Orphans++
		}
	}
	return report, nil
}

func hasPerFileIndex(dir, fp string) bool {
	_, err := os.Stat(filepath.Join(dir, fp, index.ManifestFile))
	return err == nil
}

// resolvePath applies the preload-collection default for endpoints
// whose path argument is optional.
func (s *Service) resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		return path, nil
	}
	if s.cfg.Server.PreloadPath != "" {
		return s.cfg.Server.PreloadPath, nil
	}
	return "", ragonerr.ValidationError("pdf_directory is required", nil)
}

func (s *Service) watchPath(path string) {
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Watch(path); err != nil {
		slog.Warn("cannot watch path for staleness", "path", path, "error", err)
	}
}

// renderAnswer renders the retrieved passages deterministically. The
// service never generates text.
func renderAnswer(results []index.Result) string {
	if len(results) == 0 {
		return "No relevant passages found."
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		head := fmt.Sprintf("[%s]", r.Chunk.Source)
		if r.Chunk.Page > 0 {
			head = fmt.Sprintf("[%s] Page %d", r.Chunk.Source, r.Chunk.Page)
		}
		parts = append(parts, head+":\n"+r.Chunk.Content)
	}
	return strings.Join(parts, "\n---\n")
}
