// models/wallet_mirror.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// WalletMirror mirrors wallet registry data from the sync service. It is the
// local source of truth for NFT-holder checks and for the referral conflict
// rule (referrer and referee must not share a wallet address or email).
// Table name: wallet_mirror
type WalletMirror struct {
	ID                 string    `gorm:"primaryKey;type:uuid;not null" json:"id"`
	UserID             string    `gorm:"type:uuid;not null;index" json:"user_id"` // External user ID
	Chain              string    `gorm:"type:varchar(64);not null;index" json:"chain"`
	Address            string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"` // Primary lookup key
	Email              string    `gorm:"type:varchar(256);index" json:"email,omitempty"`
	IsNFTHolder        bool      `gorm:"not null" json:"is_nft_holder"`
	IsActive           bool      `gorm:"not null" json:"is_active"`
	LastBalanceCheckAt time.Time `gorm:"not null" json:"last_balance_check_at"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`

	DeletedAt gorm.DeletedAt `gorm:"index"`
}
