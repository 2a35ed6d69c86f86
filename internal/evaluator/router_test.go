package evaluator

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestDecideRouteMatrix(t *testing.T) {
	var r RouteDecider
	profile := domain.DefaultProfile()

	tests := []struct {
		name           string
		cDoc           float64
		varianceForced bool
		want           domain.RouteDecision
	}{
		{"well above A", 0.95, false, domain.RouteAuto},
		{"exactly A is inclusive", 0.85, false, domain.RouteAuto},
		{"just below A", 0.8499, false, domain.RouteHybrid},
		{"mid band", 0.65, false, domain.RouteHybrid},
		{"exactly B is inclusive", 0.45, false, domain.RouteHybrid},
		{"just below B", 0.4499, false, domain.RouteHumanAll},
		{"zero", 0, false, domain.RouteHumanAll},
		{"variance downgrades AUTO", 0.95, true, domain.RouteHybrid},
		{"variance keeps HYBRID", 0.65, true, domain.RouteHybrid},
		{"variance never upgrades HUMAN_ALL", 0.3, true, domain.RouteHumanAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := r.Decide(tt.cDoc, profile, tt.varianceForced)
			if got != tt.want {
				t.Errorf("Decide(%v, forced=%v) = %s, want %s", tt.cDoc, tt.varianceForced, got, tt.want)
			}
		})
	}
}

func TestDecideMonotonicity(t *testing.T) {
	var r RouteDecider
	profile := domain.DefaultProfile()

	rank := map[domain.RouteDecision]int{
		domain.RouteHumanAll: 0,
		domain.RouteHybrid:   1,
		domain.RouteAuto:     2,
	}
	prev := -1
	for c := 0.0; c <= 1.0; c += 0.01 {
		route, _ := r.Decide(c, profile, false)
		if rank[route] < prev {
			t.Fatalf("route rank decreased at c_doc=%v (%s)", c, route)
		}
		prev = rank[route]
	}
}

func TestDecideVarianceIsConservative(t *testing.T) {
	var r RouteDecider
	profile := domain.DefaultProfile()

	// Forcing variance must never produce a more automatic route than
	// the same score without it.
	rank := map[domain.RouteDecision]int{
		domain.RouteHumanAll: 0,
		domain.RouteHybrid:   1,
		domain.RouteAuto:     2,
	}
	for c := 0.0; c <= 1.0; c += 0.01 {
		plain, _ := r.Decide(c, profile, false)
		forced, _ := r.Decide(c, profile, true)
		if rank[forced] > rank[plain] {
			t.Fatalf("variance upgraded route at c_doc=%v: %s -> %s", c, plain, forced)
		}
	}
}

func TestDecideReason(t *testing.T) {
	var r RouteDecider
	profile := domain.DefaultProfile()

	if _, reason := r.Decide(0.95, profile, false); reason != "" {
		t.Errorf("clean AUTO should carry no reason, got %q", reason)
	}
	if _, reason := r.Decide(0.95, profile, true); reason == "" {
		t.Error("variance-forced downgrade must carry a reason")
	}
}
