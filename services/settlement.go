package services

import (
	"fmt"
	"math"
)

// SettlementResult is the outcome of converting one confirmed payment into
// whole entries plus a carried-over credit.
type SettlementResult struct {
	EntriesGranted int64   `json:"entries_granted"`
	NewCredit      float64 `json:"new_credit"`
	UnitPrice      float64 `json:"unit_price"`
	// PriceIncreased is set when the unit price escalated between session
	// creation and settlement. The conversion still uses the live price;
	// callers surface this as a warning, never a blocker.
	PriceIncreased bool `json:"price_increased"`
}

// Settle converts a confirmed USD payment plus any existing credit into
// whole entries at unitPrice. The remainder becomes the new credit.
// All arithmetic is done in integer cents to keep the invariant exact:
//
//	entriesGranted*unitPrice <= paid+credit < (entriesGranted+1)*unitPrice
//
// If the total is below one unit price, zero entries are granted and the
// whole amount carries over as credit. Must be fed exactly one confirmed
// payment; replay protection is owned by the payment session, not here.
func Settle(paidAmount, existingCredit, unitPrice float64) (SettlementResult, error) {
	if paidAmount < 0 || existingCredit < 0 {
		return SettlementResult{}, fmt.Errorf("settle: negative amount (paid=%.2f credit=%.2f)", paidAmount, existingCredit)
	}
	if unitPrice <= 0 {
		return SettlementResult{}, fmt.Errorf("settle: unit price must be positive, got %.2f", unitPrice)
	}

	totalCents := toCents(paidAmount) + toCents(existingCredit)
	priceCents := toCents(unitPrice)

	granted := totalCents / priceCents
	remainder := totalCents % priceCents

	return SettlementResult{
		EntriesGranted: granted,
		NewCredit:      fromCents(remainder),
		UnitPrice:      unitPrice,
	}, nil
}

func toCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}
