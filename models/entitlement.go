package models

// EntitlementSource tags where a usable entry came from.
type EntitlementSource string

const (
	SourceFree     EntitlementSource = "free"
	SourceReferral EntitlementSource = "referral"
	SourceNFT      EntitlementSource = "nft"
	SourcePaid     EntitlementSource = "paid"
)

// ConsumptionOrder is the order sources are decremented when a user sends a
// priced entry: non-paid sources drain before paid ones, since paid entries
// represent money already spent.
var ConsumptionOrder = []EntitlementSource{SourceFree, SourceReferral, SourceNFT, SourcePaid}

// Entitlement is a user's usable-entry balance, grouped by grant source,
// plus the fractional USD credit carried from imprecise payments.
// One row per user, global across bounties.
// Invariant: every count >= 0; Credit >= 0.
type Entitlement struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`
	WalletAddress  string `gorm:"index" json:"wallet_address,omitempty"`

	FreeRemaining     int64 `gorm:"not null;default:0" json:"free_remaining"`
	ReferralRemaining int64 `gorm:"not null;default:0" json:"referral_remaining"`
	NFTRemaining      int64 `gorm:"not null;default:0" json:"nft_remaining"`
	PaidRemaining     int64 `gorm:"not null;default:0" json:"paid_remaining"`

	QuestionsUsed int64 `gorm:"not null;default:0" json:"questions_used"`

	// Credit is leftover USD from payments that didn't divide evenly into
	// entries. It is not an entry: it only combines with a future payment
	// inside settlement.
	Credit float64 `gorm:"not null;default:0" json:"credit"`

	// NFTGranted marks the once-per-wallet NFT bonus as spent.
	NFTGranted bool `gorm:"not null;default:false" json:"nft_granted"`

	Timestamps
}

// TotalRemaining sums usable entries across all sources.
func (e *Entitlement) TotalRemaining() int64 {
	return e.FreeRemaining + e.ReferralRemaining + e.NFTRemaining + e.PaidRemaining
}

// Remaining returns the count for one source.
func (e *Entitlement) Remaining(src EntitlementSource) int64 {
	switch src {
	case SourceFree:
		return e.FreeRemaining
	case SourceReferral:
		return e.ReferralRemaining
	case SourceNFT:
		return e.NFTRemaining
	case SourcePaid:
		return e.PaidRemaining
	}
	return 0
}
