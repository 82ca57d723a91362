package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"bounty-entry-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const referralCodeLength = 6
const referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type ReferralService struct {
	DB           *gorm.DB
	Entitlements *EntitlementService
}

func NewReferralService(db *gorm.DB, entitlements *EntitlementService) *ReferralService {
	return &ReferralService{DB: db, Entitlements: entitlements}
}

// GetOrCreateCode returns the user's shareable referral code, minting one on
// first request.
func (s *ReferralService) GetOrCreateCode(externalUserID string) (*models.ReferralCode, error) {
	var code models.ReferralCode
	err := s.DB.Where("external_user_id = ?", externalUserID).First(&code).Error
	if err == nil {
		return &code, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	for {
		candidate, err := generateReferralCode()
		if err != nil {
			return nil, err
		}
		var existing models.ReferralCode
		if err := s.DB.Where("code = ?", candidate).First(&existing).Error; err == nil {
			continue // collision, try again
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		code = models.ReferralCode{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			Code:           candidate,
			IsActive:       true,
		}
		if err := s.DB.Create(&code).Error; err != nil {
			return nil, fmt.Errorf("failed to create referral code: %w", err)
		}
		return &code, nil
	}
}

// RedeemResult reports a processed referral signup.
type RedeemResult struct {
	ReferralID     string `json:"referral_id"`
	ReferrerID     string `json:"referrer_id"`
	ReferredID     string `json:"referred_id"`
	EntriesAwarded int64  `json:"entries_awarded"` // to each side
}

// Redeem processes a referral signup: both referrer and referee get the
// referral bonus. Rejected when the referee refers themselves, was already
// referred, or shares a wallet address or email with the referrer (the
// identity-conflict rule against shared-identity abuse).
func (s *ReferralService) Redeem(refereeUserID, code, walletAddress, email string) (*RedeemResult, error) {
	var refCode models.ReferralCode
	if err := s.DB.Where("code = ? AND is_active = ?", code, true).First(&refCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invalid referral code")
		}
		return nil, err
	}

	if refCode.ExternalUserID == refereeUserID {
		return nil, fmt.Errorf("cannot refer yourself")
	}

	var existing models.Referral
	if err := s.DB.Where("referred_id = ?", refereeUserID).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("user has already been referred")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.checkIdentityConflict(refCode.ExternalUserID, walletAddress, email); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	referral := models.Referral{
		ID:               uuid.NewString(),
		ReferrerID:       refCode.ExternalUserID,
		ReferredID:       refereeUserID,
		ReferralCodeUsed: refCode.Code,
		EntriesAwarded:   ReferralFreeQuestions,
		BonusAwarded:     true,
		AwardedAt:        &now,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&referral).Error; err != nil {
			return fmt.Errorf("failed to create referral record: %w", err)
		}
		for _, userID := range []string{refCode.ExternalUserID, refereeUserID} {
			ent, err := s.Entitlements.lockEntitlement(tx, userID, "")
			if err != nil {
				return err
			}
			if err := tx.Model(ent).
				Update("referral_remaining", gorm.Expr("referral_remaining + ?", int64(ReferralFreeQuestions))).Error; err != nil {
				return fmt.Errorf("failed to award referral questions to %s: %w", userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🤝 Referral %s: %d question(s) each to %s and %s", referral.ID, ReferralFreeQuestions, referral.ReferrerID, referral.ReferredID)
	return &RedeemResult{
		ReferralID:     referral.ID,
		ReferrerID:     referral.ReferrerID,
		ReferredID:     referral.ReferredID,
		EntriesAwarded: ReferralFreeQuestions,
	}, nil
}

// checkIdentityConflict rejects a referral when referrer and referee share a
// wallet address or email, using the wallet mirror as the registry.
func (s *ReferralService) checkIdentityConflict(referrerID, refereeWallet, refereeEmail string) error {
	var wallets []models.WalletMirror
	if err := s.DB.Where("user_id = ?", referrerID).Find(&wallets).Error; err != nil {
		return err
	}
	for _, w := range wallets {
		if refereeWallet != "" && w.Address == refereeWallet {
			return fmt.Errorf("cannot refer a wallet connected to your own account")
		}
		if refereeEmail != "" && w.Email != "" && w.Email == refereeEmail {
			return fmt.Errorf("cannot refer an email connected to your own account")
		}
	}
	return nil
}

func generateReferralCode() (string, error) {
	code := make([]byte, referralCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		code[i] = referralCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
