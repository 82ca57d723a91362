package models

import (
	"time"

	"gorm.io/gorm"
)

// Difficulty controls a bounty's base entry price and its starting pool.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// StartingCostByDifficulty maps difficulty to the base price of one entry.
// Fixed table shared with frontend/mobile — do not compute.
var StartingCostByDifficulty = map[Difficulty]float64{
	DifficultyEasy:   0.50,
	DifficultyMedium: 2.50,
	DifficultyHard:   5.00,
	DifficultyExpert: 10.00,
}

// StartingPoolByDifficulty maps difficulty to the pool floor used when a
// bounty is seeded and when it resets after an escape plan.
var StartingPoolByDifficulty = map[Difficulty]float64{
	DifficultyEasy:   500.0,
	DifficultyMedium: 2500.0,
	DifficultyHard:   5000.0,
	DifficultyExpert: 10000.0,
}

// Bounty is the prize fund plus its entry counter and difficulty tier.
// CurrentPool and TotalEntries are mutated on every settled entry and on
// escape-plan reset; all mutations go through a locked transaction.
type Bounty struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	Name            string     `gorm:"not null" json:"name"`
	Slug            string     `gorm:"uniqueIndex;not null" json:"slug"`
	DifficultyLevel Difficulty `gorm:"not null;default:'medium'" json:"difficulty_level"`

	CurrentPool  float64 `gorm:"not null;default:0" json:"current_pool"` // USD, always >= 0
	TotalEntries int64   `gorm:"not null;default:0" json:"total_entries"`

	LastEntryAt       *time.Time `json:"last_entry_at,omitempty"`
	LastParticipantID *string    `gorm:"index" json:"last_participant_id,omitempty"`

	IsActive bool `gorm:"not null;default:true" json:"is_active"`

	Timestamps
}

// BasePrice returns the tier base price for this bounty.
func (b *Bounty) BasePrice() float64 {
	if p, ok := StartingCostByDifficulty[b.DifficultyLevel]; ok {
		return p
	}
	return StartingCostByDifficulty[DifficultyMedium]
}

// StartingPool returns the pool floor for this bounty's tier.
func (b *Bounty) StartingPool() float64 {
	if p, ok := StartingPoolByDifficulty[b.DifficultyLevel]; ok {
		return p
	}
	return StartingPoolByDifficulty[DifficultyMedium]
}

// BountyEntry records one settled entry (a priced chat attempt) against a
// bounty. The distinct set of ExternalUserIDs since the last escape reset is
// the participant set for the 80% split.
type BountyEntry struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID       string    `gorm:"index;not null" json:"bounty_id"`
	ExternalUserID string    `gorm:"index;not null" json:"external_user_id"`
	Source         string    `gorm:"not null" json:"source"`   // entitlement source the entry was consumed from
	PricePaid      float64   `json:"price_paid"`               // unit price at consumption time
	AskedAt        time.Time `json:"asked_at" gorm:"autoCreateTime;index"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
