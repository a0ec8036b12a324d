package shard

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Passage is one entry in a query's merged ranking. Score, Page and
// Ordinal come from the best-scoring occurrence across shards; Sources
// and Shards accumulate every occurrence.
type Passage struct {
	Content string   `json:"content"`
	Score   float32  `json:"score"`
	Page    int      `json:"page,omitempty"`
	Ordinal int      `json:"ordinal"`
	Sources []string `json:"sources"`
	Shards  []string `json:"shards"`

	// shard of the best-scoring occurrence, used as the tie-break key.
	orderShard string
}

// aggregate merges per-shard rankings into one list ordered by score,
// then shard fingerprint, then chunk ordinal. Passages with the same
// content key collapse into a single entry; the returned count is how
// many occurrences were folded away.
func aggregate(outcomes []outcome) ([]Passage, int) {
	groups := make(map[string]*Passage)
	var order []string
	total := 0

	for _, o := range outcomes {
		for _, r := range o.results {
			total++
			key := passageKey(r.Chunk.Content)
			p, ok := groups[key]
			if !ok {
				groups[key] = &Passage{
					Content:    r.Chunk.Content,
					Score:      r.Score,
					Page:       r.Chunk.Page,
					Ordinal:    r.Chunk.Ordinal,
					Sources:    []string{r.Chunk.Source},
					Shards:     []string{o.shard.id},
					orderShard: o.shard.id,
				}
				order = append(order, key)
				continue
			}
			if r.Score > p.Score {
				p.Content = r.Chunk.Content
				p.Score = r.Score
				p.Page = r.Chunk.Page
				p.Ordinal = r.Chunk.Ordinal
				p.orderShard = o.shard.id
			}
			p.Sources = appendUnique(p.Sources, r.Chunk.Source)
			p.Shards = appendUnique(p.Shards, o.shard.id)
		}
	}

	passages := make([]Passage, 0, len(order))
	for _, key := range order {
		p := groups[key]
		sort.Strings(p.Sources)
		sort.Strings(p.Shards)
		passages = append(passages, *p)
	}
	sort.SliceStable(passages, func(i, j int) bool {
		a, b := passages[i], passages[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.orderShard != b.orderShard {
			return a.orderShard < b.orderShard
		}
		return a.Ordinal < b.Ordinal
	})
	return passages, total - len(passages)
}

// passageKey digests the passage text with whitespace runs collapsed,
// so formatting variants of the same passage share a key.
func passageKey(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
