package collab

import (
	"testing"
	"time"
)

func TestLevelForLadder(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want int
	}{
		{5 * time.Minute, 0},
		{14 * time.Minute, 0},
		{15 * time.Minute, 1},
		{29 * time.Minute, 1},
		{30 * time.Minute, 2},
		{119 * time.Minute, 2},
		{120 * time.Minute, 3},
		{179 * time.Minute, 3},
		{180 * time.Minute, 4},
		{24 * time.Hour, 4},
	}
	for _, tt := range tests {
		if got := levelFor(tt.age); got != tt.want {
			t.Errorf("levelFor(%s) = %d, want %d", tt.age, got, tt.want)
		}
	}
}

func TestLevelForStrictlyIncreasing(t *testing.T) {
	prev := 0
	for age := time.Duration(0); age <= 4*time.Hour; age += time.Minute {
		level := levelFor(age)
		if level < prev {
			t.Fatalf("escalation level decreased at age %s", age)
		}
		prev = level
	}
}
