package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
)

// fakeOllama implements /api/tags and /api/embed with deterministic
// 8-dimension vectors.
type fakeOllama struct {
	models     []string
	dims       int
	embedCalls atomic.Int64
	failFirst  atomic.Int64 // fail /api/embed calls up to this count with 500
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		infos := make([]ollamaModelInfo, len(f.models))
		for i, m := range f.models {
			infos[i] = ollamaModelInfo{Name: m}
		}
		json.NewEncoder(w).Encode(ollamaModelListResponse{Models: infos})
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		call := f.embedCalls.Add(1)
		if call <= f.failFirst.Load() {
			http.Error(w, "model busy", http.StatusInternalServerError)
			return
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, item := range v {
				inputs = append(inputs, item.(string))
			}
		}

		out := ollamaEmbedResponse{Model: req.Model}
		for i, text := range inputs {
			vec := make([]float64, f.dims)
			// Distinct per text so order is checkable.
			vec[0] = float64(len(text))
			vec[1] = float64(i + 1)
			out.Embeddings = append(out.Embeddings, vec)
		}
		json.NewEncoder(w).Encode(out)
	})
	return mux
}

func newFakeOllama(t *testing.T, f *fakeOllama) *httptest.Server {
	t.Helper()
	if f.dims == 0 {
		f.dims = 8
	}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_ResolvesAndDetects(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text:latest"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL
	cfg.Model = "nomic-embed-text"

	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	// Base name resolves to the installed tag.
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 8, e.Dimensions(), "dimension probe should detect the vector width")
}

func TestOllamaEmbedder_FallbackModel(t *testing.T) {
	fake := &fakeOllama{models: []string{"all-minilm:latest"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL
	cfg.Model = "nomic-embed-text"

	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "all-minilm:latest", e.ModelName())
}

func TestOllamaEmbedder_NoModelInstalled(t *testing.T) {
	fake := &fakeOllama{models: []string{"llama3:8b"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL

	_, err := NewOllamaEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, ragonerr.ErrCodeEmbedderUnavailable, ragonerr.GetCode(err))
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	cfg := DefaultOllamaConfig()
	cfg.Endpoint = "http://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond

	_, err := NewOllamaEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, ragonerr.ErrCodeEmbedderUnavailable, ragonerr.GetCode(err))
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text:latest"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL
	cfg.BatchSize = 2

	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"aa", "", "bbbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	// Blank text becomes a zero vector without an API call.
	for _, v := range vecs[1] {
		require.Zero(t, v)
	}

	// Non-blank vectors are normalized but keep their relative shape:
	// component 0 encodes the text length in the fake.
	assert.NotEqual(t, vecs[0], vecs[2])
	assert.Len(t, vecs[0], 8)
}

func TestOllamaEmbedder_RetriesTransientFailure(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text:latest"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL

	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	// Fail the next two calls; the third attempt succeeds.
	fake.failFirst.Store(fake.embedCalls.Load() + 2)

	vec, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestOllamaEmbedder_ExhaustedRetries(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text:latest"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL
	cfg.MaxRetries = 2

	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer e.Close()

	fake.failFirst.Store(fake.embedCalls.Load() + 100)

	_, err = e.Embed(context.Background(), "doomed")
	require.Error(t, err)
	assert.Equal(t, ragonerr.ErrCodeEmbeddingFailed, ragonerr.GetCode(err))
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text:latest"}}
	srv := newFakeOllama(t, fake)

	cfg := DefaultOllamaConfig()
	cfg.Endpoint = srv.URL

	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmbedderClosed)
	assert.NoError(t, e.Close(), "double close is a no-op")
}

func TestMatchModel(t *testing.T) {
	installed := []string{"nomic-embed-text:latest", "mxbai-embed-large:335m", "llama3:8b"}

	tests := []struct {
		name string
		want string
		hit  string
		ok   bool
	}{
		{"exact", "llama3:8b", "llama3:8b", true},
		{"base name adds tag", "nomic-embed-text", "nomic-embed-text:latest", true},
		{"tag mismatch matches base", "mxbai-embed-large:latest", "mxbai-embed-large:335m", true},
		{"absent", "embeddinggemma", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, ok := matchModel(tt.want, installed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.hit, hit)
		})
	}
}
