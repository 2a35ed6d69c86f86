package evaluator

import (
	"context"
	"testing"
)

func TestFallbackMonitorThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewFallbackMonitor(3)

	m.OnPageFallback(ctx, "job-1", 1)
	m.OnPageFallback(ctx, "job-1", 2)
	if m.ShouldSuspend("job-1") {
		t.Error("two consecutive fallbacks must not suspend")
	}
	m.OnPageFallback(ctx, "job-1", 3)
	if !m.ShouldSuspend("job-1") {
		t.Error("three consecutive fallbacks must suspend")
	}
}

func TestFallbackMonitorSuccessResets(t *testing.T) {
	ctx := context.Background()
	m := NewFallbackMonitor(3)

	m.OnPageFallback(ctx, "job-1", 1)
	m.OnPageFallback(ctx, "job-1", 2)
	m.OnPageSuccess("job-1")
	m.OnPageFallback(ctx, "job-1", 3)
	if m.ShouldSuspend("job-1") {
		t.Error("a success in between must reset the consecutive counter")
	}
}

func TestFallbackMonitorPerJobIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewFallbackMonitor(3)

	for p := 1; p <= 3; p++ {
		m.OnPageFallback(ctx, "job-1", p)
	}
	if m.ShouldSuspend("job-2") {
		t.Error("fallbacks on one job must not affect another")
	}
	m.Reset("job-1")
	if m.ShouldSuspend("job-1") {
		t.Error("reset must clear the counter")
	}
}
