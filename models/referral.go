package models

import "time"

// ReferralCode is a user's shareable 6-char code. One per user.
type ReferralCode struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Code           string `gorm:"uniqueIndex;not null" json:"code"`
	IsActive       bool   `gorm:"not null;default:true" json:"is_active"`

	Timestamps
}

// Referral tracks one redeemed referral and its entry bonuses.
// ReferredID is unique: a user can only ever be referred once.
type Referral struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string `gorm:"index;not null" json:"referrer_id"` // ExternalUserID
	ReferredID string `gorm:"uniqueIndex;not null" json:"referred_id"`

	ReferralCodeUsed string     `gorm:"not null" json:"referral_code_used"`
	EntriesAwarded   int64      `json:"entries_awarded" gorm:"default:0"`
	BonusAwarded     bool       `json:"bonus_awarded" gorm:"default:false"`
	AwardedAt        *time.Time `json:"awarded_at,omitempty"`

	Timestamps
}
