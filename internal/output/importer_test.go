package output

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestOutcomeWindowNeedsMinimumSample(t *testing.T) {
	w := newOutcomeWindow(windowSize)
	for i := 0; i < windowMin-1; i++ {
		w.record(false)
	}
	if w.overloaded() {
		t.Error("window below minimum sample must never throttle")
	}
	w.record(false)
	if !w.overloaded() {
		t.Error("all-failure window at minimum sample must throttle")
	}
}

func TestOutcomeWindowFailureRate(t *testing.T) {
	w := newOutcomeWindow(windowSize)
	// 40 successes, 8 failures: 16.7% stays under the 20% limit.
	for i := 0; i < 40; i++ {
		w.record(true)
	}
	for i := 0; i < 8; i++ {
		w.record(false)
	}
	if w.overloaded() {
		t.Error("16.7%% failure rate must not throttle")
	}
	// Three more failures push the ring past 20%.
	for i := 0; i < 3; i++ {
		w.record(false)
	}
	if !w.overloaded() {
		t.Error("22%% failure rate must throttle")
	}
}

func TestOutcomeWindowDecayAllowsProbe(t *testing.T) {
	w := newOutcomeWindow(windowSize)
	for i := 0; i < windowMin; i++ {
		w.record(false)
	}
	for w.overloaded() {
		w.decay()
	}
	// Decay terminated, so a paused importer eventually probes again.
	if w.overloaded() {
		t.Error("fully decayed window must not throttle")
	}
}

func TestOutcomeWindowRingEviction(t *testing.T) {
	w := newOutcomeWindow(windowSize)
	for i := 0; i < windowSize; i++ {
		w.record(false)
	}
	// A full window of fresh successes must overwrite the failures.
	for i := 0; i < windowSize; i++ {
		w.record(true)
	}
	if w.overloaded() {
		t.Error("old failures must be evicted by newer outcomes")
	}
}

func TestImportRankOrdering(t *testing.T) {
	if !(importRank(domain.ImportConfirmed) < importRank(domain.ImportAssumed)) {
		t.Error("confirmed must rank better than assumed")
	}
	if !(importRank(domain.ImportAssumed) < importRank(domain.ImportFailed)) {
		t.Error("assumed must rank better than failed")
	}
	if importRank(domain.ImportPending) != importRank(domain.ImportFailed) {
		t.Error("pending counts as unsettled, same rank as failed")
	}
}

func TestAllSettled(t *testing.T) {
	settled := []domain.Page{
		{PageNumber: 1, Status: domain.PageAICompleted},
		{PageNumber: 2, Status: domain.PageBlank},
		{PageNumber: 3, Status: domain.PageHumanCompleted},
		{PageNumber: 4, Status: domain.PageSkipped},
	}
	if !allSettled(settled, 4) {
		t.Error("terminal and completed pages must count as settled")
	}
	if allSettled(settled, 5) {
		t.Error("a job with a missing page row is not settled")
	}

	open := append(settled, domain.Page{PageNumber: 5, Status: domain.PageHumanQueued})
	if allSettled(open, 5) {
		t.Error("a queued page must block the import")
	}
}

func TestIdemKeyShape(t *testing.T) {
	if got := domain.IdemKey("abc12345_001_002", 3); got != "abc12345_001_002_v3" {
		t.Errorf("IdemKey = %q", got)
	}
}
