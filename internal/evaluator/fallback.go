package evaluator

import (
	"context"
	"sync"

	"github.com/haoran/skuflow/internal/logger"
)

// ConsecutiveFallbackThreshold is how many pages in a row may degrade to
// rule-only extraction before the whole job should be suspended.
const ConsecutiveFallbackThreshold = 3

// FallbackMonitor tracks consecutive per-page degradations per job.
// A single bad page is noise; a run of them means the document or the
// LLM path is broken and burning budget on the rest is pointless.
type FallbackMonitor struct {
	mu        sync.Mutex
	threshold int
	counters  map[string]int
}

// NewFallbackMonitor creates a monitor; threshold <=0 uses the default.
func NewFallbackMonitor(threshold int) *FallbackMonitor {
	if threshold <= 0 {
		threshold = ConsecutiveFallbackThreshold
	}
	return &FallbackMonitor{
		threshold: threshold,
		counters:  make(map[string]int),
	}
}

// OnPageFallback records one degraded page for a job.
func (m *FallbackMonitor) OnPageFallback(ctx context.Context, jobID string, pageNo int) {
	m.mu.Lock()
	m.counters[jobID]++
	count := m.counters[jobID]
	m.mu.Unlock()
	if count >= m.threshold {
		logger.CtxWarn(ctx, "consecutive page fallbacks reached threshold: job_id=%s count=%d page=%d",
			jobID, count, pageNo)
	}
}

// OnPageSuccess resets the consecutive counter for a job.
func (m *FallbackMonitor) OnPageSuccess(jobID string) {
	m.mu.Lock()
	m.counters[jobID] = 0
	m.mu.Unlock()
}

// ShouldSuspend reports whether the job crossed the fallback threshold.
func (m *FallbackMonitor) ShouldSuspend(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[jobID] >= m.threshold
}

// Reset forgets a job, typically after it terminates.
func (m *FallbackMonitor) Reset(jobID string) {
	m.mu.Lock()
	delete(m.counters, jobID)
	m.mu.Unlock()
}
