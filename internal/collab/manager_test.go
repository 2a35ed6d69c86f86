package collab

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestCanTransitionMatrix(t *testing.T) {
	tests := []struct {
		from, to domain.TaskStatus
		want     bool
	}{
		{domain.TaskCreated, domain.TaskProcessing, true},
		{domain.TaskCreated, domain.TaskAssigned, true},
		{domain.TaskAssigned, domain.TaskProcessing, true},
		{domain.TaskProcessing, domain.TaskCompleted, true},
		{domain.TaskProcessing, domain.TaskSkipped, true},
		{domain.TaskProcessing, domain.TaskCreated, true},
		{domain.TaskCompleted, domain.TaskCreated, true}, // rework
		{domain.TaskEscalated, domain.TaskCompleted, true},

		{domain.TaskCreated, domain.TaskCompleted, false}, // must pass through processing
		{domain.TaskCompleted, domain.TaskProcessing, false},
		{domain.TaskCompleted, domain.TaskSkipped, false},
		{domain.TaskSkipped, domain.TaskCreated, false}, // skipped is terminal
		{domain.TaskSkipped, domain.TaskProcessing, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestEveryStatusHasTransitionEntry(t *testing.T) {
	statuses := []domain.TaskStatus{
		domain.TaskCreated, domain.TaskAssigned, domain.TaskProcessing,
		domain.TaskCompleted, domain.TaskSkipped, domain.TaskEscalated,
	}
	for _, s := range statuses {
		if _, ok := validTransitions[s]; !ok {
			t.Errorf("status %s has no transition entry", s)
		}
	}
}
