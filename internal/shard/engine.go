// Package shard fans a question out across per-file index shards in
// parallel and merges the ranked passages into a single deduplicated
// list. Shards are independent: one corrupt or slow shard never takes
// down the call, it is reported in the response instead.
package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragon-ai/ragon/internal/cache"
	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/embed"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/fingerprint"
	"github.com/ragon-ai/ragon/internal/index"
	"github.com/ragon-ai/ragon/internal/telemetry"
)

// Request describes one multi-shard call. Shards are taken from
// SourceHashes when given, otherwise discovered under Root; paths in
// ExternalSources are queried as additional shards either way.
type Request struct {
	// Root is the collection directory holding per-file index shards.
	Root string `json:"root,omitempty"`

	// Queries holds the question variants, at most MaxQueries.
	Queries []string `json:"queries"`

	// SourceHashes restricts the call to the named fingerprints.
	SourceHashes []string `json:"source_hashes,omitempty"`

	// ExternalSources are extra index paths outside the collection.
	ExternalSources []string `json:"external_sources,omitempty"`

	// KPerShard is the number of passages requested from each shard.
	KPerShard int `json:"top_k_per_source,omitempty"`

	// MaxWorkers bounds how many shards are queried concurrently.
	MaxWorkers int `json:"max_workers,omitempty"`

	// ShardTimeout bounds each individual shard query.
	ShardTimeout time.Duration `json:"-"`
}

// Failure records one shard that could not be queried.
type Failure struct {
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

// QueryResult holds the merged passages for a single query string.
type QueryResult struct {
	Query             string    `json:"query"`
	Passages          []Passage `json:"passages"`
	DuplicatesRemoved int       `json:"duplicates_removed"`
}

// Stats summarizes the whole call. A shard counts as failed when any
// of the call's queries failed against it.
type Stats struct {
	Shards         int       `json:"shards"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Failures       []Failure `json:"failures,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Response is the result of a multi-shard call.
type Response struct {
	Results []QueryResult `json:"per_query_results"`
	Stats   Stats         `json:"stats"`
}

// Engine runs multi-shard queries against cached indexes.
type Engine struct {
	cache    *cache.Cache
	embedder embed.Embedder
}

// NewEngine creates an engine backed by the given cache and embedder.
func NewEngine(c *cache.Cache, embedder embed.Embedder) *Engine {
	return &Engine{cache: c, embedder: embedder}
}

// shardRef is one resolved shard: its identity for reporting and
// ordering, and the path the cache loads it from.
type shardRef struct {
	id   string
	path string
}

// outcome is the raw per-shard result before aggregation.
type outcome struct {
	shard   shardRef
	results []index.Result
	err     error
}

// MultiQuery embeds each query once, queries every shard in parallel
// and aggregates the per-shard rankings. Individual shard failures are
// reported in the response; the call only fails when validation fails,
// the context is cancelled, or no shard at all could be queried.
func (e *Engine) MultiQuery(ctx context.Context, req Request) (*Response, error) {
	if len(req.Queries) == 0 {
		return nil, ragonerr.ValidationError("at least one query is required", nil)
	}
	if len(req.Queries) > config.DefaultMaxQueries {
		return nil, ragonerr.New(ragonerr.ErrCodeTooManyQueries,
			fmt.Sprintf("%d queries exceed the limit of %d", len(req.Queries), config.DefaultMaxQueries), nil)
	}
	for _, q := range req.Queries {
		if strings.TrimSpace(q) == "" {
			return nil, ragonerr.ValidationError("queries must not be blank", nil)
		}
	}
	if req.Root == "" && len(req.SourceHashes) == 0 && len(req.ExternalSources) == 0 {
		return nil, ragonerr.ValidationError("a collection root, source hashes or external sources are required", nil)
	}

	k := req.KPerShard
	if k <= 0 {
		k = config.DefaultKPerShard
	}
	workers := req.MaxWorkers
	if workers <= 0 {
		workers = config.DefaultMaxWorkers
	}
	timeout := req.ShardTimeout
	if timeout <= 0 {
		timeout = config.DefaultShardTimeout
	}

	shards, err := e.resolveShards(&req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	results := make([]QueryResult, 0, len(req.Queries))
	failed := make(map[string]Failure)
	var causes []error
	successes := 0

	for _, query := range req.Queries {
		vector, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, ragonerr.EmbeddingFailure(err)
		}

		outcomes, err := e.fanOut(ctx, shards, vector, k, workers, timeout)
		if err != nil {
			return nil, err
		}

		ok := make([]outcome, 0, len(outcomes))
		for _, o := range outcomes {
			if o.err != nil {
				f := failureFor(o.shard.id, o.err)
				causes = append(causes, shardError(o.shard.id, o.err))
				if _, seen := failed[o.shard.id]; !seen {
					failed[o.shard.id] = f
				}
				status := "failed"
				if f.Kind == ragonerr.ErrCodeShardTimeout {
					status = "timeout"
				}
				telemetry.ObserveShardQuery(status)
				slog.Warn("shard query failed",
					"fingerprint", o.shard.id,
					"code", f.Kind,
					"error", o.err)
				continue
			}
			successes++
			telemetry.ObserveShardQuery("ok")
			ok = append(ok, o)
		}

		passages, dupes := aggregate(ok)
		results = append(results, QueryResult{
			Query:             query,
			Passages:          passages,
			DuplicatesRemoved: dupes,
		})
	}

	if successes == 0 {
		return nil, ragonerr.AllShardsFailed(causes...)
	}

	elapsed := time.Since(started)
	slog.Info("multi-shard query complete",
		"queries", len(req.Queries),
		"shards", len(shards),
		"failed", len(failed),
		"elapsed_ms", elapsed.Milliseconds())

	return &Response{
		Results: results,
		Stats: Stats{
			Shards:         len(shards),
			Succeeded:      len(shards) - len(failed),
			Failed:         len(failed),
			Failures:       sortedFailures(failed),
			ElapsedSeconds: elapsed.Seconds(),
		},
	}, nil
}

// fanOut queries every shard concurrently, at most workers at a time.
// Per-shard errors land in the outcome slots; only cancellation of the
// surrounding context aborts the group.
func (e *Engine) fanOut(ctx context.Context, shards []shardRef, vector []float32, k, workers int, timeout time.Duration) ([]outcome, error) {
	outcomes := make([]outcome, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)
	for i, sh := range shards {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			results, err := e.queryShard(gctx, sh, vector, k, timeout)
			outcomes[i] = outcome{shard: sh, results: results, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// queryShard loads one shard through the cache and searches it under
// the per-shard deadline.
func (e *Engine) queryShard(ctx context.Context, sh shardRef, vector []float32, k int, timeout time.Duration) ([]index.Result, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lease, err := e.cache.GetOrLoad(sctx, sh.path)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	return lease.Handle.Search(sctx, vector, k)
}

// shardError wraps a failed shard query for the error chain handed to
// AllShardsFailed.
func shardError(id string, err error) *ragonerr.RagonError {
	if errors.Is(err, context.DeadlineExceeded) {
		return ragonerr.ShardTimeout(id, err)
	}
	return ragonerr.ShardFailure(id, err)
}

// failureFor is the response-facing record for a failed shard. A
// deadline hit reports as a timeout; other failures keep the cause's
// own code so a corrupt shard reads differently from a missing one.
func failureFor(id string, err error) Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{
			Fingerprint: id,
			Kind:        ragonerr.ErrCodeShardTimeout,
			Message:     fmt.Sprintf("shard %s timed out", id),
		}
	}
	kind := ragonerr.GetCode(err)
	if kind == "" {
		kind = ragonerr.ErrCodeShardFailed
	}
	message := err.Error()
	var re *ragonerr.RagonError
	if errors.As(err, &re) {
		message = re.Message
	}
	return Failure{Fingerprint: id, Kind: kind, Message: message}
}

// resolveShards turns the request into the concrete shard list.
// Explicit hashes win over discovery; external sources are always
// appended last.
func (e *Engine) resolveShards(req *Request) ([]shardRef, error) {
	var shards []shardRef
	switch {
	case len(req.SourceHashes) > 0:
		if req.Root == "" {
			return nil, ragonerr.ValidationError("source hashes require a collection root", nil)
		}
		for _, h := range req.SourceHashes {
			if !fingerprint.IsFingerprint(h) {
				return nil, ragonerr.ValidationError(fmt.Sprintf("invalid source hash %q", h), nil)
			}
			shards = append(shards, shardRef{id: h, path: filepath.Join(req.Root, h)})
		}
	case req.Root != "":
		found, err := discoverShards(req.Root)
		if err != nil {
			return nil, err
		}
		shards = found
	}

	for _, p := range req.ExternalSources {
		shards = append(shards, shardRef{id: filepath.Base(p), path: p})
	}

	if len(shards) == 0 {
		return nil, ragonerr.SourceUnavailable(req.Root, fmt.Errorf("no index shards found"))
	}
	return shards, nil
}

// discoverShards lists the fingerprint-named index directories under
// root. Directories without a manifest are half-built or foreign and
// are skipped.
func discoverShards(root string) ([]shardRef, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, ragonerr.SourceUnavailable(root, err)
	}

	var shards []shardRef
	for _, ent := range entries {
		if !ent.IsDir() || !fingerprint.IsFingerprint(ent.Name()) {
			continue
		}
		dir := filepath.Join(root, ent.Name())
		if _, err := os.Stat(filepath.Join(dir, index.ManifestFile)); err != nil {
			continue
		}
		shards = append(shards, shardRef{id: ent.Name(), path: dir})
	}
	return shards, nil
}

func sortedFailures(failed map[string]Failure) []Failure {
	if len(failed) == 0 {
		return nil
	}
	out := make([]Failure, 0, len(failed))
	for _, f := range failed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}
