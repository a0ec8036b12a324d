package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragon-ai/ragon/internal/service"
	"github.com/ragon-ai/ragon/internal/shard"
	"github.com/ragon-ai/ragon/pkg/version"
)

// Server bridges MCP clients with the query service. Every tool runs
// against the same resident cache the HTTP surface uses.
type Server struct {
	mcp    *mcp.Server
	svc    *service.Service
	logger *slog.Logger
}

// NewServer creates an MCP server on top of the query service.
func NewServer(svc *service.Service) (*Server, error) {
	if svc == nil {
		return nil, errors.New("query service is required")
	}

	s := &Server{
		svc:    svc,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ragon",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)
	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: "Retrieve the most relevant passages for a question from an indexed document collection. Builds the index on first use; later calls hit the in-memory cache.",
	}, s.handleQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "multi_query",
		Description: "Fan several questions out across per-file index shards in parallel and merge the rankings, deduplicating passages that appear in more than one shard. Use for cross-document research over large collections.",
	}, s.handleMultiQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_stats",
		Description: "List the index collections currently resident in memory, with chunk counts and load times.",
	}, s.handleCacheStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_sources",
		Description: "Inspect a collection directory without loading it: which source files exist, whether each is covered by an index, and how many orphaned index directories remain.",
	}, s.handleListSources)

	s.logger.Debug("MCP tools registered", slog.Int("count", 4))
}

// QueryInput is the input schema for the query tool.
type QueryInput struct {
	Directory string `json:"pdf_directory,omitempty" jsonschema:"collection directory to query, defaults to the preloaded collection"`
	Question  string `json:"question" jsonschema:"the question to retrieve passages for"`
	TopK      int    `json:"top_k,omitempty" jsonschema:"number of passages to return, default 4"`
}

// QueryOutput is the output schema for the query tool.
type QueryOutput struct {
	Answer        string         `json:"answer" jsonschema:"retrieved passages rendered as one annotated text block"`
	Sources       []SourceOutput `json:"sources" jsonschema:"the individual passages with provenance"`
	FromCache     bool           `json:"from_cache" jsonschema:"true when the index was already resident"`
	LoadSeconds   float64        `json:"load_time_seconds" jsonschema:"time spent loading or building the index"`
	SearchSeconds float64        `json:"retrieval_time_seconds" jsonschema:"time spent embedding and searching"`
}

// SourceOutput is one retrieved passage.
type SourceOutput struct {
	Content string `json:"content" jsonschema:"the passage text"`
	Source  string `json:"source" jsonschema:"originating file name"`
	Page    int    `json:"page,omitempty" jsonschema:"1-based page number, 0 when unknown"`
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("question parameter is required")
	}

	res, err := s.svc.Query(ctx, input.Directory, input.Question, input.TopK)
	if err != nil {
		return nil, QueryOutput{}, MapError(err)
	}

	out := QueryOutput{
		Answer:        res.Answer,
		Sources:       make([]SourceOutput, 0, len(res.Sources)),
		FromCache:     res.FromCache,
		LoadSeconds:   res.LoadTime,
		SearchSeconds: res.RetrievalTime,
	}
	for _, src := range res.Sources {
		out.Sources = append(out.Sources, SourceOutput{
			Content: src.Content,
			Source:  src.Metadata.Source,
			Page:    src.Metadata.Page,
		})
	}
	return nil, out, nil
}

// MultiQueryInput is the input schema for the multi_query tool.
type MultiQueryInput struct {
	Root            string   `json:"root,omitempty" jsonschema:"collection directory whose per-file shards are queried"`
	Queries         []string `json:"queries" jsonschema:"questions to fan out, each embedded once"`
	SourceHashes    []string `json:"source_hashes,omitempty" jsonschema:"restrict to these content fingerprints under root"`
	ExternalSources []string `json:"external_sources,omitempty" jsonschema:"extra index directories outside root"`
	TopKPerSource   int      `json:"top_k_per_source,omitempty" jsonschema:"passages per shard before merging, default 3"`
	MaxWorkers      int      `json:"max_workers,omitempty" jsonschema:"parallel shard queries, default 4"`
}

// MultiQueryOutput is the output schema for the multi_query tool.
type MultiQueryOutput struct {
	Results []MultiQueryResult `json:"per_query_results" jsonschema:"merged passages per query, in request order"`
	Stats   MultiQueryStats    `json:"stats" jsonschema:"shard-level outcome of the call"`
}

// MultiQueryResult holds the merged passages for one query.
type MultiQueryResult struct {
	Query             string          `json:"query"`
	Passages          []PassageOutput `json:"passages"`
	DuplicatesRemoved int             `json:"duplicates_removed"`
}

// PassageOutput is one merged passage with its provenance.
type PassageOutput struct {
	Content string   `json:"content"`
	Score   float32  `json:"score"`
	Page    int      `json:"page,omitempty"`
	Sources []string `json:"sources" jsonschema:"file names the passage appears in"`
	Shards  []string `json:"shards" jsonschema:"shard identifiers that returned it"`
}

// MultiQueryStats summarizes the fan-out.
type MultiQueryStats struct {
	Shards         int            `json:"shards"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	Failures       []ShardFailure `json:"failures,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
}

// ShardFailure names one shard that could not be queried.
type ShardFailure struct {
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

func (s *Server) handleMultiQuery(ctx context.Context, _ *mcp.CallToolRequest, input MultiQueryInput) (
	*mcp.CallToolResult,
	MultiQueryOutput,
	error,
) {
	if len(input.Queries) == 0 {
		return nil, MultiQueryOutput{}, NewInvalidParamsError("queries parameter is required")
	}

	resp, err := s.svc.MultiQuery(ctx, shard.Request{
		Root:            input.Root,
		Queries:         input.Queries,
		SourceHashes:    input.SourceHashes,
		ExternalSources: input.ExternalSources,
		KPerShard:       input.TopKPerSource,
		MaxWorkers:      input.MaxWorkers,
	})
	if err != nil {
		return nil, MultiQueryOutput{}, MapError(err)
	}

	out := MultiQueryOutput{
		Results: make([]MultiQueryResult, 0, len(resp.Results)),
		Stats: MultiQueryStats{
			Shards:         resp.Stats.Shards,
			Succeeded:      resp.Stats.Succeeded,
			Failed:         resp.Stats.Failed,
			ElapsedSeconds: resp.Stats.ElapsedSeconds,
		},
	}
	for _, f := range resp.Stats.Failures {
		out.Stats.Failures = append(out.Stats.Failures, ShardFailure(f))
	}
	for _, r := range resp.Results {
		mr := MultiQueryResult{
			Query:             r.Query,
			Passages:          make([]PassageOutput, 0, len(r.Passages)),
			DuplicatesRemoved: r.DuplicatesRemoved,
		}
		for _, p := range r.Passages {
			mr.Passages = append(mr.Passages, PassageOutput{
				Content: p.Content,
				Score:   p.Score,
				Page:    p.Page,
				Sources: p.Sources,
				Shards:  p.Shards,
			})
		}
		out.Results = append(out.Results, mr)
	}
	return nil, out, nil
}

// CacheStatsInput is the (empty) input schema for the cache_stats tool.
type CacheStatsInput struct{}

// CacheStatsOutput is the output schema for the cache_stats tool.
type CacheStatsOutput struct {
	TotalCached int               `json:"total_cached"`
	Indices     []CacheIndexEntry `json:"indices"`
}

// CacheIndexEntry describes one resident index.
type CacheIndexEntry struct {
	Path      string  `json:"path"`
	DocsCount int     `json:"docs_count" jsonschema:"number of indexed chunks"`
	LoadedAt  string  `json:"loaded_at" jsonschema:"RFC 3339 load timestamp"`
	LoadTime  float64 `json:"load_time_seconds"`
	Hits      int64   `json:"hits"`
	Stale     bool    `json:"stale" jsonschema:"true when sources drifted since the index was built"`
}

func (s *Server) handleCacheStats(ctx context.Context, _ *mcp.CallToolRequest, _ CacheStatsInput) (
	*mcp.CallToolResult,
	CacheStatsOutput,
	error,
) {
	stats := s.svc.CacheStats()
	out := CacheStatsOutput{
		TotalCached: stats.Count,
		Indices:     make([]CacheIndexEntry, 0, len(stats.Entries)),
	}
	for _, e := range stats.Entries {
		out.Indices = append(out.Indices, CacheIndexEntry{
			Path:      e.Path,
			DocsCount: e.Chunks,
			LoadedAt:  e.LoadedAt.Format(time.RFC3339),
			LoadTime:  e.LoadTime,
			Hits:      e.Hits,
			Stale:     e.Stale,
		})
	}
	return nil, out, nil
}

// ListSourcesInput is the input schema for the list_sources tool.
type ListSourcesInput struct {
	Directory string `json:"directory" jsonschema:"collection directory to inspect"`
}

// ListSourcesOutput is the output schema for the list_sources tool.
type ListSourcesOutput struct {
	Path    string             `json:"path"`
	Sources []SourceStatusItem `json:"sources"`
	Orphans int                `json:"orphans" jsonschema:"index directories whose source content no longer exists"`
}

// SourceStatusItem describes one source file and its index coverage.
type SourceStatusItem struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	SizeBytes   int64  `json:"size_bytes"`
	Status      string `json:"status" jsonschema:"built, stale, or missing"`
}

func (s *Server) handleListSources(ctx context.Context, _ *mcp.CallToolRequest, input ListSourcesInput) (
	*mcp.CallToolResult,
	ListSourcesOutput,
	error,
) {
	if strings.TrimSpace(input.Directory) == "" {
		return nil, ListSourcesOutput{}, NewInvalidParamsError("directory parameter is required")
	}

	report, err := service.ListSources(ctx, input.Directory)
	if err != nil {
		return nil, ListSourcesOutput{}, MapError(err)
	}

	out := ListSourcesOutput{
		Path:    report.Path,
		Sources: make([]SourceStatusItem, 0, len(report.Sources)),
		Orphans: report.Orphans,
	}
	for _, src := range report.Sources {
		out.Sources = append(out.Sources, SourceStatusItem{
			Name:        src.Name,
			Fingerprint: src.Fingerprint,
			SizeBytes:   src.SizeBytes,
			Status:      src.Status,
		})
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
