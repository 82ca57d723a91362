package services

import (
	"errors"
	"fmt"
	"log"

	"bounty-entry-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Grant sizes per source.
const (
	FreeQuestionsOnSignup = 1 // first sight of a user
	ReferralFreeQuestions = 5 // granted to both referrer and referee
	NFTFreeQuestions      = 5 // once per wallet
)

// ErrInsufficientEntries is a recoverable condition: the caller should
// prompt for payment, not treat it as a fault.
var ErrInsufficientEntries = errors.New("insufficient entries")

type EntitlementService struct {
	DB *gorm.DB
}

func NewEntitlementService(db *gorm.DB) *EntitlementService {
	return &EntitlementService{DB: db}
}

// EnsureEntitlement fetches the user's balance row, creating it with the
// signup free allocation on first sight.
func (s *EntitlementService) EnsureEntitlement(db *gorm.DB, externalUserID, walletAddress string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := db.Where("external_user_id = ?", externalUserID).First(&ent).Error
	if err == nil {
		if walletAddress != "" && ent.WalletAddress == "" {
			db.Model(&ent).Update("wallet_address", walletAddress)
			ent.WalletAddress = walletAddress
		}
		return &ent, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ent = models.Entitlement{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		WalletAddress:  walletAddress,
		FreeRemaining:  FreeQuestionsOnSignup,
	}
	if err := db.Create(&ent).Error; err != nil {
		return nil, fmt.Errorf("failed to create entitlement record: %w", err)
	}
	log.Printf("🎁 Granted %d signup question(s) to user %s", FreeQuestionsOnSignup, externalUserID)
	return &ent, nil
}

// Balance returns the user's current balance, creating the row if needed.
func (s *EntitlementService) Balance(externalUserID, walletAddress string) (*models.Entitlement, error) {
	return s.EnsureEntitlement(s.DB, externalUserID, walletAddress)
}

// Grant adds count entries from one source. Runs in its own transaction
// with a row lock so concurrent grants cannot clobber each other.
func (s *EntitlementService) Grant(externalUserID, walletAddress string, source models.EntitlementSource, count int64) error {
	if count <= 0 {
		return fmt.Errorf("grant count must be positive, got %d", count)
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		ent, err := s.lockEntitlement(tx, externalUserID, walletAddress)
		if err != nil {
			return err
		}
		col, ok := sourceColumn(source)
		if !ok {
			return fmt.Errorf("unknown entitlement source %q", source)
		}
		return tx.Model(ent).Update(col, gorm.Expr(col+" + ?", count)).Error
	})
}

// GrantNFTBonus awards the NFT-holder bonus exactly once per wallet. The
// wallet must appear in the mirror as an NFT holder; if the bonus was
// already granted the call is a no-op.
func (s *EntitlementService) GrantNFTBonus(externalUserID, walletAddress string) (bool, error) {
	var wallet models.WalletMirror
	if err := s.DB.Where("address = ?", walletAddress).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("wallet %s not found in mirror", walletAddress)
		}
		return false, err
	}
	if !wallet.IsNFTHolder {
		return false, fmt.Errorf("wallet %s does not hold a qualifying NFT", walletAddress)
	}

	granted := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ent, err := s.lockEntitlement(tx, externalUserID, walletAddress)
		if err != nil {
			return err
		}
		if ent.NFTGranted {
			return nil // already spent, not an error
		}
		granted = true
		return tx.Model(ent).Updates(map[string]interface{}{
			"nft_remaining": gorm.Expr("nft_remaining + ?", int64(NFTFreeQuestions)),
			"nft_granted":   true,
		}).Error
	})
	if err != nil {
		return false, err
	}
	if granted {
		log.Printf("🖼️  NFT bonus: %d question(s) granted to user %s (wallet %s)", NFTFreeQuestions, externalUserID, walletAddress)
	}
	return granted, nil
}

// ApplySettlement credits a settled payment inside the caller's transaction:
// paid entries plus the new credit remainder, replacing the old credit that
// the conversion already absorbed.
func (s *EntitlementService) ApplySettlement(tx *gorm.DB, externalUserID, walletAddress string, entries int64, newCredit float64) error {
	ent, err := s.lockEntitlement(tx, externalUserID, walletAddress)
	if err != nil {
		return err
	}
	return tx.Model(ent).Updates(map[string]interface{}{
		"paid_remaining": gorm.Expr("paid_remaining + ?", entries),
		"credit":         newCredit,
	}).Error
}

// ConsumeOne decrements exactly one entry from the locked balance row,
// draining non-paid sources first. Returns the source consumed, or
// ErrInsufficientEntries with no mutation when the total balance is zero.
func (s *EntitlementService) ConsumeOne(tx *gorm.DB, ent *models.Entitlement) (models.EntitlementSource, error) {
	for _, src := range models.ConsumptionOrder {
		if ent.Remaining(src) <= 0 {
			continue
		}
		col, _ := sourceColumn(src)
		res := tx.Model(&models.Entitlement{}).
			Where("id = ? AND "+col+" > 0", ent.ID).
			Updates(map[string]interface{}{
				col:              gorm.Expr(col + " - 1"),
				"questions_used": gorm.Expr("questions_used + 1"),
			})
		if res.Error != nil {
			return "", res.Error
		}
		if res.RowsAffected == 0 {
			// Raced to zero despite the lock; fail closed.
			return "", ErrInsufficientEntries
		}
		return src, nil
	}
	return "", ErrInsufficientEntries
}

// lockEntitlement ensures the row exists and takes a FOR UPDATE lock on it.
func (s *EntitlementService) lockEntitlement(tx *gorm.DB, externalUserID, walletAddress string) (*models.Entitlement, error) {
	if _, err := s.EnsureEntitlement(tx, externalUserID, walletAddress); err != nil {
		return nil, err
	}
	var ent models.Entitlement
	if err := lockForUpdate(tx).
		Where("external_user_id = ?", externalUserID).
		First(&ent).Error; err != nil {
		return nil, fmt.Errorf("failed to lock entitlement for update: %w", err)
	}
	return &ent, nil
}

func sourceColumn(src models.EntitlementSource) (string, bool) {
	switch src {
	case models.SourceFree:
		return "free_remaining", true
	case models.SourceReferral:
		return "referral_remaining", true
	case models.SourceNFT:
		return "nft_remaining", true
	case models.SourcePaid:
		return "paid_remaining", true
	}
	return "", false
}
