package llm

import (
	"context"
	"testing"

	"github.com/haoran/skuflow/internal/apperr"
)

type fixedUsageStore struct {
	used float64
}

func (s *fixedUsageStore) UsedTodayUSD(ctx context.Context) (float64, error) { return s.used, nil }
func (s *fixedUsageStore) RecordUsage(ctx context.Context, costUSD float64, tokens int64) error {
	s.used += costUSD
	return nil
}

func TestBudgetGuardPhases(t *testing.T) {
	tests := []struct {
		name      string
		used      float64
		operation string
		wantPhase BudgetPhase
		wantErr   bool
	}{
		{"untouched budget", 0, "extract_skus", BudgetNormal, false},
		{"well under", 50, "extract_skus", BudgetNormal, false},
		{"just above warning line", 79, "extract_skus", BudgetNormal, false},
		{"warning blocks extraction", 85, "extract_skus", BudgetWarning, true},
		{"warning allows evaluation", 85, "evaluate_document", BudgetWarning, false},
		{"warning allows page evaluation", 85, "evaluate_page", BudgetWarning, false},
		{"exhausted blocks everything", 96, "evaluate_document", BudgetExhausted, true},
		{"overspent", 150, "evaluate_document", BudgetExhausted, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewBudgetGuard(&fixedUsageStore{used: tt.used}, 100)
			phase, err := g.Check(context.Background(), tt.operation)
			if phase != tt.wantPhase {
				t.Errorf("phase = %s, want %s", phase, tt.wantPhase)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil && apperr.CodeOf(err) != apperr.CodeLLMBudgetExhausted {
				t.Errorf("error code = %s, want %s", apperr.CodeOf(err), apperr.CodeLLMBudgetExhausted)
			}
		})
	}
}

func TestBudgetGuardDisabledWhenZero(t *testing.T) {
	g := NewBudgetGuard(&fixedUsageStore{used: 1e9}, 0)
	phase, err := g.Check(context.Background(), "extract_skus")
	if phase != BudgetNormal || err != nil {
		t.Fatalf("disabled guard must always allow: phase=%s err=%v", phase, err)
	}
}

func TestBudgetGuardRecordInvalidatesCache(t *testing.T) {
	store := &fixedUsageStore{used: 0}
	g := NewBudgetGuard(store, 100)

	if _, err := g.Check(context.Background(), "extract_skus"); err != nil {
		t.Fatalf("first check: %v", err)
	}
	// Push the spend past the exhaustion line; Record must drop the
	// cached counter so the next check sees it immediately.
	if err := g.Record(context.Background(), 99, 1000); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := g.Check(context.Background(), "extract_skus"); err == nil {
		t.Fatal("check after exhausting spend must fail")
	}
}
