package chunk

// Chunk size defaults. ~1200 characters keeps a chunk within a few
// hundred embedding tokens while staying large enough to carry a
// self-contained passage.
const (
	DefaultSize    = 1200
	DefaultOverlap = 150
)

// Chunk is one retrievable span of source text.
type Chunk struct {
	Text string

	// Source is the display filename of the originating file.
	Source string

	// Page is the 1-based page number, 0 when the source has no pages.
	Page int

	// Ordinal is the chunk's position within its source, 0-based.
	Ordinal int
}
