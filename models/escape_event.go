package models

import "time"

// EscapeEvent snapshots one triggered escape plan: the pool amount at
// trigger time, who participated since the previous reset, and who acted
// last. Consumed once to perform the distribution, then the bounty resets.
type EscapeEvent struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	BountyID string `gorm:"index;not null" json:"bounty_id"`

	PoolAmount        float64 `gorm:"not null" json:"pool_amount"` // snapshot before reset
	ParticipantCount  int     `gorm:"not null" json:"participant_count"`
	LastParticipantID string  `json:"last_participant_id"`

	TriggeredAt time.Time `json:"triggered_at" gorm:"autoCreateTime"`

	Payouts []EscapePayout `gorm:"foreignKey:EscapeEventID" json:"payouts,omitempty"`
}

// EscapePayout is one user's share of a distributed pool.
type EscapePayout struct {
	ID             string  `gorm:"primaryKey;type:uuid" json:"id"`
	EscapeEventID  string  `gorm:"index;not null" json:"escape_event_id"`
	ExternalUserID string  `gorm:"index;not null" json:"external_user_id"`
	AmountUSD      float64 `gorm:"not null" json:"amount_usd"`
	IsLastActor    bool    `gorm:"not null;default:false" json:"is_last_actor"` // the 20% share

	Timestamps
}
