package services

import "testing"

func TestSettleExamples(t *testing.T) {
	tests := []struct {
		name        string
		paid        float64
		credit      float64
		price       float64
		wantEntries int64
		wantCredit  float64
	}{
		{"even division", 10.00, 0, 2.50, 4, 0},
		{"remainder carried", 9.00, 0, 2.50, 3, 1.50},
		{"credit tops up to extra entry", 9.00, 1.00, 2.50, 4, 0},
		{"below one unit, all credit", 1.00, 0, 2.50, 0, 1.00},
		{"zero paid, credit alone buys entry", 0, 2.50, 2.50, 1, 0},
		{"escalated price", 10.00, 0, 1.09, 9, 0.19},
		{"cap price", 5000.00, 0, 4500.00, 1, 500.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Settle(tt.paid, tt.credit, tt.price)
			if err != nil {
				t.Fatalf("Settle returned error: %v", err)
			}
			if got.EntriesGranted != tt.wantEntries {
				t.Errorf("entries = %d, want %d", got.EntriesGranted, tt.wantEntries)
			}
			if got.NewCredit != tt.wantCredit {
				t.Errorf("credit = %.2f, want %.2f", got.NewCredit, tt.wantCredit)
			}
		})
	}
}

func TestSettleInvariant(t *testing.T) {
	// entries*price <= paid+credit < (entries+1)*price, and 0 <= credit < price,
	// across a sweep of inputs.
	prices := []float64{0.50, 1.09, 2.50, 5.00, 10.00, 4500.00}
	amounts := []float64{0, 0.01, 0.49, 0.50, 1.00, 9.99, 10.00, 123.45, 4499.99, 10000.00}
	credits := []float64{0, 0.01, 0.49, 1.50, 2.49}

	for _, price := range prices {
		for _, paid := range amounts {
			for _, credit := range credits {
				got, err := Settle(paid, credit, price)
				if err != nil {
					t.Fatalf("Settle(%.2f, %.2f, %.2f) error: %v", paid, credit, price, err)
				}
				totalCents := toCents(paid) + toCents(credit)
				lower := got.EntriesGranted * toCents(price)
				upper := (got.EntriesGranted + 1) * toCents(price)
				if lower > totalCents || totalCents >= upper {
					t.Errorf("Settle(%.2f, %.2f, %.2f): %d entries violates floor invariant", paid, credit, price, got.EntriesGranted)
				}
				if got.NewCredit < 0 || toCents(got.NewCredit) >= toCents(price) {
					t.Errorf("Settle(%.2f, %.2f, %.2f): credit %.2f out of [0, price)", paid, credit, price, got.NewCredit)
				}
			}
		}
	}
}

func TestSettleRejectsBadInputs(t *testing.T) {
	if _, err := Settle(-1, 0, 2.50); err == nil {
		t.Error("expected error for negative paid amount")
	}
	if _, err := Settle(10, -0.5, 2.50); err == nil {
		t.Error("expected error for negative credit")
	}
	if _, err := Settle(10, 0, 0); err == nil {
		t.Error("expected error for zero unit price")
	}
}
