package pipeline

import (
	"strings"
	"sync"
)

var continuationMarkers = []string{"续", "cont", "continued"}

// CrossPageMerger stitches tables that spill across page boundaries.
// Pages run concurrently, so merging is best-effort: a page can only
// inherit from its predecessor when the predecessor finished first.
type CrossPageMerger struct {
	mu    sync.Mutex
	tails map[string]map[int]TableData // jobID -> pageNo -> last table
}

// NewCrossPageMerger creates an empty merger.
func NewCrossPageMerger() *CrossPageMerger {
	return &CrossPageMerger{tails: make(map[string]map[int]TableData)}
}

// RecordTail remembers a page's last table for its successor.
func (m *CrossPageMerger) RecordTail(jobID string, pageNo int, page *ParsedPage) {
	if len(page.Tables) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tails[jobID] == nil {
		m.tails[jobID] = make(map[int]TableData)
	}
	m.tails[jobID][pageNo] = page.Tables[len(page.Tables)-1]
}

// MergeContinuation checks whether the page's first table continues the
// previous page's last one and, if so, prepends the carried rows.
// Returns true when a merge happened.
func (m *CrossPageMerger) MergeContinuation(jobID string, page *ParsedPage) bool {
	if len(page.Tables) == 0 {
		return false
	}
	m.mu.Lock()
	prev, ok := m.tails[jobID][page.PageNo-1]
	m.mu.Unlock()
	if !ok {
		return false
	}

	first := &page.Tables[0]
	if !isContinuation(page.RawText, prev, *first) {
		return false
	}

	merged := make([][]string, 0, len(prev.Rows)+len(first.Rows))
	merged = append(merged, prev.Rows...)
	merged = append(merged, first.Rows...)
	first.Rows = merged
	first.HeaderRow = prev.HeaderRow
	first.ColumnCount = prev.ColumnCount
	first.IsContinuation = true
	return true
}

// Forget drops all state for a finished job.
func (m *CrossPageMerger) Forget(jobID string) {
	m.mu.Lock()
	delete(m.tails, jobID)
	m.mu.Unlock()
}

// isContinuation: an explicit continuation marker near the top of the
// page, or a first table with the same column count as the carried one.
func isContinuation(pageText string, prev, first TableData) bool {
	head := strings.ToLower(pageText)
	if len(head) > 100 {
		head = head[:100]
	}
	for _, hint := range continuationMarkers {
		if strings.Contains(head, hint) {
			return true
		}
	}
	return prev.ColumnCount > 0 && prev.ColumnCount == first.ColumnCount
}
