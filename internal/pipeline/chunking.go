package pipeline

import "sort"

const (
	// chunkThreshold: jobs at or below this page count run as a single
	// chunk.
	chunkThreshold = 100

	// chunkSize is the target pages per chunk for large jobs.
	chunkSize = 50

	// chunkMaxAdjust bounds how far a chunk boundary may shift to avoid
	// cutting a table that continues onto the next page.
	chunkMaxAdjust = 10
)

// BuildChunks partitions a job's pages into processing chunks.
// continuations marks pages that look like table continuations of their
// predecessor; a chunk boundary shifts forward past them, up to the
// adjustment bound, so a spilled table stays within one chunk.
// Parameters:
//   - pages: page numbers to process, any order.
//   - continuations: continuation-page markers, may be nil.
// Returns:
//   - []PageChunk: ordered chunks covering every input page exactly once.
func BuildChunks(pages []int, continuations map[int]bool) []PageChunk {
	if len(pages) == 0 {
		return nil
	}
	sorted := make([]int, len(pages))
	copy(sorted, pages)
	sort.Ints(sorted)

	if len(sorted) <= chunkThreshold {
		return []PageChunk{{ChunkID: 0, Pages: sorted}}
	}

	var chunks []PageChunk
	start := 0
	for start < len(sorted) {
		end := start + chunkSize
		if end >= len(sorted) {
			end = len(sorted)
		} else {
			for adjust := 0; adjust < chunkMaxAdjust && end < len(sorted); adjust++ {
				if !continuations[sorted[end]] {
					break
				}
				end++
			}
		}
		chunks = append(chunks, PageChunk{ChunkID: len(chunks), Pages: sorted[start:end]})
		start = end
	}
	return chunks
}
