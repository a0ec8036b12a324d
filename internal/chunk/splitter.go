// Package chunk splits extracted text into overlapping retrieval units.
//
// The splitter walks a separator hierarchy (paragraph, line, sentence,
// word) and falls back to hard character cuts only when a single word
// exceeds the chunk size. Chunks never span page boundaries.
package chunk

import (
	"strings"

	"github.com/ragon-ai/ragon/internal/extract"
)

// defaultSeparators is the recursive hierarchy, coarsest first. The
// empty separator means per-rune splitting and always applies.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter produces chunks of at most Size bytes with Overlap bytes
// carried between neighbors.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter creates a splitter. Out-of-range arguments are clamped;
// config validation rejects them earlier on the normal path.
func NewSplitter(size, overlap int) *Splitter {
	if size < 1 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Splitter{Size: size, Overlap: overlap}
}

// Split splits text into chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, defaultSeparators)
}

// SplitDocument chunks every page of doc, attaching source, page, and a
// document-wide ordinal to each chunk.
func (s *Splitter) SplitDocument(doc *extract.Document) []Chunk {
	var chunks []Chunk
	ordinal := 0
	for _, page := range doc.Pages {
		for _, text := range s.Split(page.Text) {
			chunks = append(chunks, Chunk{
				Text:    text,
				Source:  doc.Source,
				Page:    page.Number,
				Ordinal: ordinal,
			})
			ordinal++
		}
	}
	return chunks
}

// split recursively splits text using the first separator present in it,
// merging small pieces back together and descending a level for any
// piece still larger than the chunk size.
func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			remaining = nil
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	splits := strings.Split(text, separator)

	var chunks []string
	var pending []string
	for _, piece := range splits {
		if len(piece) < s.Size {
			pending = append(pending, piece)
			continue
		}

		// Flush accumulated small pieces before descending.
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending, separator)...)
			pending = nil
		}
		if len(remaining) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, remaining)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending, separator)...)
	}

	return chunks
}

// merge packs consecutive pieces into chunks of at most Size bytes,
// seeding each new chunk with the tail of the previous one so neighbors
// overlap by roughly Overlap bytes.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := len(separator)

	var chunks []string
	var window []string
	total := 0

	for _, piece := range pieces {
		pieceLen := len(piece)
		joinLen := 0
		if len(window) > 0 {
			joinLen = sepLen
		}

		if total+pieceLen+joinLen > s.Size && len(window) > 0 {
			if doc := joinPieces(window, separator); doc != "" {
				chunks = append(chunks, doc)
			}

			// Slide the window forward until it fits the overlap
			// budget and leaves room for the incoming piece.
			for total > s.Overlap ||
				(total+pieceLen+joinLen > s.Size && total > 0) {
				total -= len(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}

		window = append(window, piece)
		total += pieceLen
		if len(window) > 1 {
			total += sepLen
		}
	}

	if doc := joinPieces(window, separator); doc != "" {
		chunks = append(chunks, doc)
	}

	return chunks
}

// joinPieces reassembles pieces and trims surrounding whitespace.
func joinPieces(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}
