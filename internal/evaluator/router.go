package evaluator

import (
	"fmt"

	"github.com/haoran/skuflow/internal/domain"
)

// RouteDecider maps document confidence to a processing route.
//
// Routing matrix (bounds inclusive):
//
//	C_doc >= A          -> AUTO
//	B <= C_doc < A      -> HYBRID
//	C_doc < B           -> HUMAN_ALL
//	variance forced     -> at most HYBRID, never worse than HUMAN_ALL
type RouteDecider struct{}

// Decide picks the route for a document.
// A variance trip downgrades AUTO to HYBRID but never upgrades: a score
// below B stays HUMAN_ALL regardless of variance.
// Parameters:
//   - cDoc: document confidence in [0,1].
//   - profile: threshold profile frozen for the job.
//   - varianceForced: variance detector verdict.
// Returns:
//   - domain.RouteDecision: AUTO, HYBRID, or HUMAN_ALL.
//   - string: human-readable reason, empty for a clean AUTO.
func (RouteDecider) Decide(cDoc float64, profile *domain.ThresholdProfile, varianceForced bool) (domain.RouteDecision, string) {
	a, b := profile.ThresholdA, profile.ThresholdB

	if varianceForced && cDoc >= b {
		return domain.RouteHybrid, routeReason(cDoc, a, b, domain.RouteHybrid, "variance_forced")
	}
	switch {
	case cDoc >= a:
		return domain.RouteAuto, ""
	case cDoc >= b:
		return domain.RouteHybrid, routeReason(cDoc, a, b, domain.RouteHybrid, "")
	default:
		return domain.RouteHumanAll, routeReason(cDoc, a, b, domain.RouteHumanAll, "")
	}
}

func routeReason(cDoc, a, b float64, route domain.RouteDecision, extra string) string {
	reason := fmt.Sprintf("C_doc=%.3f, A=%v, B=%v -> %s", cDoc, a, b, route)
	if extra != "" {
		reason += " (" + extra + ")"
	}
	return reason
}
