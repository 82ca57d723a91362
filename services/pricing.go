package services

import (
	"math"

	"bounty-entry-system/models"
)

// Entry pricing constants (shared with frontend/mobile).
const (
	// QuestionGrowthRate escalates the unit price by 0.78% per completed
	// entry across all users on a pool.
	QuestionGrowthRate = 1.0078

	// MaxQuestionCost clamps escalation; growth stops at $4,500.
	MaxQuestionCost = 4500.0
)

// UnitPrice returns the current cost of one entry given a tier base price
// and the pool's cumulative entry count. Pure function, safe to call
// concurrently. Result is rounded to whole cents and capped.
//
// price = basePrice * 1.0078^entryCount
func UnitPrice(basePrice float64, entryCount int64) float64 {
	if entryCount < 0 {
		entryCount = 0
	}
	price := basePrice * math.Pow(QuestionGrowthRate, float64(entryCount))
	if price > MaxQuestionCost {
		price = MaxQuestionCost
	}
	return roundCents(price)
}

// UnitPriceFor reads the bounty's tier base price and entry count.
func UnitPriceFor(b *models.Bounty) float64 {
	return UnitPrice(b.BasePrice(), b.TotalEntries)
}

// roundCents rounds a USD amount to the nearest cent.
func roundCents(usd float64) float64 {
	return math.Round(usd*100) / 100
}
