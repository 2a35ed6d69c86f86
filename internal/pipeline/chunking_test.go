package pipeline

import "testing"

func pageRange(from, to int) []int {
	pages := make([]int, 0, to-from+1)
	for n := from; n <= to; n++ {
		pages = append(pages, n)
	}
	return pages
}

func TestBuildChunksSmallJobSingleChunk(t *testing.T) {
	chunks := BuildChunks(pageRange(1, 100), nil)
	if len(chunks) != 1 {
		t.Fatalf("100 pages should be one chunk, got %d", len(chunks))
	}
	if len(chunks[0].Pages) != 100 {
		t.Errorf("chunk holds %d pages, want 100", len(chunks[0].Pages))
	}
}

func TestBuildChunksLargeJobSplits(t *testing.T) {
	chunks := BuildChunks(pageRange(1, 230), nil)
	if len(chunks) != 5 {
		t.Fatalf("230 pages should make 5 chunks, got %d", len(chunks))
	}

	total := 0
	seen := make(map[int]bool)
	prev := 0
	for _, c := range chunks {
		for _, p := range c.Pages {
			if seen[p] {
				t.Fatalf("page %d appears in two chunks", p)
			}
			seen[p] = true
			if p <= prev {
				t.Fatalf("pages out of order at %d", p)
			}
			prev = p
			total++
		}
	}
	if total != 230 {
		t.Errorf("chunks cover %d pages, want 230", total)
	}
}

func TestBuildChunksBoundaryAvoidsContinuation(t *testing.T) {
	continuations := map[int]bool{51: true, 52: true}
	chunks := BuildChunks(pageRange(1, 150), continuations)

	first := chunks[0].Pages
	last := first[len(first)-1]
	if last != 52 {
		t.Errorf("first chunk ends at %d, want 52 (boundary shifted past continuations)", last)
	}
}

func TestBuildChunksAdjustmentBounded(t *testing.T) {
	continuations := make(map[int]bool)
	for n := 51; n <= 90; n++ {
		continuations[n] = true
	}
	chunks := BuildChunks(pageRange(1, 150), continuations)

	first := chunks[0].Pages
	last := first[len(first)-1]
	if last > 50+chunkMaxAdjust {
		t.Errorf("boundary shifted to %d, beyond the %d-page bound", last, chunkMaxAdjust)
	}
}

func TestBuildChunksEmptyInput(t *testing.T) {
	if chunks := BuildChunks(nil, nil); chunks != nil {
		t.Errorf("no pages should yield no chunks, got %v", chunks)
	}
}

func TestBuildChunksUnsortedInput(t *testing.T) {
	chunks := BuildChunks([]int{3, 1, 2}, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	want := []int{1, 2, 3}
	for i, p := range chunks[0].Pages {
		if p != want[i] {
			t.Fatalf("pages = %v, want %v", chunks[0].Pages, want)
		}
	}
}
