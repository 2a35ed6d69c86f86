package collab

import (
	"math/rand"
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func annotator(id string, accuracy float64, active, completed int) domain.Annotator {
	return domain.Annotator{
		ID:             id,
		Accuracy:       accuracy,
		ActiveTasks:    active,
		CompletedTasks: completed,
		Available:      true,
	}
}

func testDispatcher() *Dispatcher {
	return &Dispatcher{maxActive: 10, rng: rand.New(rand.NewSource(1))}
}

func TestScoreBlendsAccuracyAndLoad(t *testing.T) {
	idle := annotator("idle", 0.8, 0, 50)
	busy := annotator("busy", 0.8, 9, 50)

	if score(&idle, 10) <= score(&busy, 10) {
		t.Error("equal accuracy: the idle annotator must score higher")
	}

	sharp := annotator("sharp", 0.95, 5, 50)
	dull := annotator("dull", 0.60, 5, 50)
	if score(&sharp, 10) <= score(&dull, 10) {
		t.Error("equal load: the more accurate annotator must score higher")
	}
}

func TestScoreExactBlend(t *testing.T) {
	a := annotator("a", 0.9, 5, 50)
	// 0.9*0.6 + (1 - 5/10)*0.4 = 0.54 + 0.20
	if got := score(&a, 10); got != 0.74 {
		t.Errorf("score = %v, want 0.74", got)
	}
}

func TestPickPrefersBestScore(t *testing.T) {
	d := testDispatcher()
	pool := []domain.Annotator{
		annotator("weak", 0.5, 8, 40),
		annotator("strong", 0.95, 1, 40),
		annotator("mid", 0.7, 4, 40),
	}
	if got := d.pick(pool); got.ID != "strong" {
		t.Errorf("picked %s, want strong", got.ID)
	}
}

func TestPickColdStartGetsWork(t *testing.T) {
	d := testDispatcher()
	pool := []domain.Annotator{
		annotator("veteran", 0.99, 0, 500),
		annotator("rookie", 0, 0, 2),
	}
	// A rookie with no track record must still be chosen: cold-start
	// annotators take precedence until they have history.
	if got := d.pick(pool); got.ID != "rookie" {
		t.Errorf("picked %s, want rookie", got.ID)
	}
}

func TestFilterAccuracyForHardTasks(t *testing.T) {
	pool := []domain.Annotator{
		annotator("proven", 0.9, 0, 100),
		annotator("shaky", 0.7, 0, 100),
		annotator("rookie", 0.95, 0, 3), // accuracy not yet meaningful
	}
	out := filterAccuracy(pool, hardTaskMinAccuracy)
	if len(out) != 1 || out[0].ID != "proven" {
		t.Fatalf("hard-task pool = %v, want only proven", ids(out))
	}
}

func ids(annotators []domain.Annotator) []string {
	out := make([]string, len(annotators))
	for i, a := range annotators {
		out[i] = a.ID
	}
	return out
}
