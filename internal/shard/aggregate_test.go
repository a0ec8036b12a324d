package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ragon-ai/ragon/internal/index"
	"github.com/ragon-ai/ragon/internal/store"
)

func res(content, source string, page, ordinal int, score float32) index.Result {
	return index.Result{
		Score: score,
		Chunk: store.ChunkRecord{
			Source:  source,
			Page:    page,
			Ordinal: ordinal,
			Content: content,
		},
	}
}

func TestAggregate_MergesDuplicateContent(t *testing.T) {
	outcomes := []outcome{
		{
			shard: shardRef{id: "1111aaaa1111aaaa1111aaaa1111aaaa"},
			results: []index.Result{
				res("the quick   brown fox", "a.txt", 1, 0, 0.61),
			},
		},
		{
			shard: shardRef{id: "2222bbbb2222bbbb2222bbbb2222bbbb"},
			results: []index.Result{
				res("the quick brown fox", "b.txt", 3, 4, 0.87),
			},
		},
	}

	passages, dupes := aggregate(outcomes)
	assert.Equal(t, 1, dupes)
	if assert.Len(t, passages, 1) {
		p := passages[0]
		assert.Equal(t, "the quick brown fox", p.Content, "best-scoring occurrence wins")
		assert.Equal(t, float32(0.87), p.Score)
		assert.Equal(t, 3, p.Page)
		assert.Equal(t, 4, p.Ordinal)
		assert.Equal(t, []string{"a.txt", "b.txt"}, p.Sources)
		assert.Equal(t, []string{"1111aaaa1111aaaa1111aaaa1111aaaa", "2222bbbb2222bbbb2222bbbb2222bbbb"}, p.Shards)
	}
}

func TestAggregate_OrdersByScoreThenShardThenOrdinal(t *testing.T) {
	outcomes := []outcome{
		{
			shard: shardRef{id: "bbbb0000bbbb0000bbbb0000bbbb0000"},
			results: []index.Result{
				res("top passage", "b.txt", 0, 5, 0.9),
				res("tied, later shard", "b.txt", 0, 0, 0.7),
			},
		},
		{
			shard: shardRef{id: "aaaa0000aaaa0000aaaa0000aaaa0000"},
			results: []index.Result{
				res("tied, earlier shard, later ordinal", "a.txt", 0, 7, 0.7),
				res("tied, earlier shard, earlier ordinal", "a.txt", 0, 3, 0.7),
			},
		},
	}

	passages, dupes := aggregate(outcomes)
	assert.Zero(t, dupes)
	if assert.Len(t, passages, 4) {
		assert.Equal(t, "top passage", passages[0].Content)
		assert.Equal(t, "tied, earlier shard, earlier ordinal", passages[1].Content)
		assert.Equal(t, "tied, earlier shard, later ordinal", passages[2].Content)
		assert.Equal(t, "tied, later shard", passages[3].Content)
	}
}

func TestAggregate_Empty(t *testing.T) {
	passages, dupes := aggregate(nil)
	assert.Empty(t, passages)
	assert.Zero(t, dupes)
}

func TestPassageKey_NormalizesWhitespace(t *testing.T) {
	assert.Equal(t, passageKey("alpha beta gamma"), passageKey("  alpha\tbeta \n gamma "))
	assert.NotEqual(t, passageKey("alpha beta gamma"), passageKey("alpha beta delta"))
}
