package gateway

import (
	"testing"

	"github.com/haoran/skuflow/internal/domain"
)

func TestPenaltyRules(t *testing.T) {
	tests := []struct {
		name   string
		result domain.PrescanResult
		want   float64
	}{
		{"healthy document", domain.PrescanResult{BlankRate: 0.1, OCRRate: 0.9, ImageRatio: 0.5}, 0},
		{"mostly blank", domain.PrescanResult{BlankRate: 0.6, OCRRate: 0.9, ImageRatio: 0.5}, 0.15},
		{"scanned without text", domain.PrescanResult{BlankRate: 0.1, OCRRate: 0.2, ImageRatio: 0.5}, 0.20},
		{"text only", domain.PrescanResult{BlankRate: 0.1, OCRRate: 0.9, ImageRatio: 0.05}, 0.10},
		{"everything wrong", domain.PrescanResult{BlankRate: 0.8, OCRRate: 0.1, ImageRatio: 0}, 0.45},
		{"rates at the thresholds", domain.PrescanResult{BlankRate: 0.5, OCRRate: 0.3, ImageRatio: 0.1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := penaltyFor(&tt.result); got != tt.want {
				t.Errorf("penaltyFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRound4(t *testing.T) {
	if got := round4(1.0 / 3.0); got != 0.3333 {
		t.Errorf("round4(1/3) = %v", got)
	}
}
