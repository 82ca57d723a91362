package services

import (
	"sync"
	"testing"

	"bounty-entry-system/models"
)

func TestUnitPriceBaseAndGrowth(t *testing.T) {
	tests := []struct {
		name       string
		basePrice  float64
		entryCount int64
		want       float64
	}{
		{"easy base at zero entries", 0.50, 0, 0.50},
		{"medium base at zero entries", 2.50, 0, 2.50},
		{"expert base at zero entries", 10.00, 0, 10.00},
		{"easy after 100 entries", 0.50, 100, 1.09},
		{"negative count treated as zero", 0.50, -5, 0.50},
		{"easy clamped at cap", 0.50, 1200, MaxQuestionCost},
		{"expert clamped at cap", 10.00, 800, MaxQuestionCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnitPrice(tt.basePrice, tt.entryCount)
			if got != tt.want {
				t.Errorf("UnitPrice(%.2f, %d) = %.2f, want %.2f", tt.basePrice, tt.entryCount, got, tt.want)
			}
		})
	}
}

func TestUnitPriceMonotonicUpToCap(t *testing.T) {
	prev := 0.0
	capped := false
	for n := int64(0); n <= 1500; n++ {
		p := UnitPrice(0.50, n)
		if p < prev {
			t.Fatalf("price decreased at entryCount=%d: %.2f < %.2f", n, p, prev)
		}
		if p > MaxQuestionCost {
			t.Fatalf("price exceeded cap at entryCount=%d: %.2f", n, p)
		}
		if p == MaxQuestionCost {
			capped = true
		}
		prev = p
	}
	if !capped {
		t.Fatal("expected price to reach the cap within 1500 entries")
	}

	// Constant once capped.
	if UnitPrice(0.50, 2000) != UnitPrice(0.50, 3000) {
		t.Error("price must stay constant past the cap")
	}
}

func TestUnitPriceForUsesBountyTier(t *testing.T) {
	b := &models.Bounty{DifficultyLevel: models.DifficultyHard, TotalEntries: 0}
	if got := UnitPriceFor(b); got != 5.00 {
		t.Errorf("hard tier base = %.2f, want 5.00", got)
	}

	// Unknown tier falls back to medium.
	b = &models.Bounty{DifficultyLevel: "nightmare", TotalEntries: 0}
	if got := UnitPriceFor(b); got != 2.50 {
		t.Errorf("unknown tier base = %.2f, want 2.50", got)
	}
}

func TestUnitPriceConcurrentCalls(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			if p := UnitPrice(2.50, n); p < 2.50 {
				t.Errorf("UnitPrice(2.50, %d) = %.2f below base", n, p)
			}
		}(int64(i))
	}
	wg.Wait()
}
