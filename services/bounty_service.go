package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"bounty-entry-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// DefaultBountyConfigs seeds the standard four pools, one per tier.
var DefaultBountyConfigs = []struct {
	Name       string
	Difficulty models.Difficulty
}{
	{"Claude Champ", models.DifficultyExpert},
	{"GPT Gigachad", models.DifficultyHard},
	{"Gemini Great", models.DifficultyMedium},
	{"Llama Legend", models.DifficultyEasy},
}

type BountyService struct {
	DB           *gorm.DB
	Entitlements *EntitlementService
}

func NewBountyService(db *gorm.DB, entitlements *EntitlementService) *BountyService {
	return &BountyService{DB: db, Entitlements: entitlements}
}

// SeedDefaultBounties creates any missing default pools at their tier floor.
func (s *BountyService) SeedDefaultBounties() error {
	for _, cfg := range DefaultBountyConfigs {
		bountySlug := slug.Make(cfg.Name)
		var existing models.Bounty
		err := s.DB.Where("slug = ?", bountySlug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		b := models.Bounty{
			ID:              uuid.NewString(),
			Name:            cfg.Name,
			Slug:            bountySlug,
			DifficultyLevel: cfg.Difficulty,
			CurrentPool:     models.StartingPoolByDifficulty[cfg.Difficulty],
			IsActive:        true,
		}
		if err := s.DB.Create(&b).Error; err != nil {
			return fmt.Errorf("failed to seed bounty %s: %w", cfg.Name, err)
		}
		log.Printf("🏆 Seeded bounty %s (%s) with starting pool $%.2f", b.Name, b.DifficultyLevel, b.CurrentPool)
	}
	return nil
}

// GetBounty fetches one pool by id.
func (s *BountyService) GetBounty(id string) (*models.Bounty, error) {
	var b models.Bounty
	if err := s.DB.First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// EntryResult reports one consumed entry.
type EntryResult struct {
	Source             models.EntitlementSource `json:"source"`
	PricePaid          float64                  `json:"price_paid"`
	QuestionsRemaining int64                    `json:"questions_remaining"`
	CurrentPool        float64                  `json:"current_pool"`
	TotalEntries       int64                    `json:"total_entries"`
}

// RecordEntry consumes exactly one entry from the user's balance and applies
// it to the pool: entry count up (escalating the price for everyone), pool up
// by the unit price, last-activity markers refreshed. The bounty row and the
// balance row are locked in one transaction so two entries, or an entry
// racing an escape trigger, cannot interleave partially.
func (s *BountyService) RecordEntry(bountyID, externalUserID, walletAddress string) (*EntryResult, error) {
	var result EntryResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var bounty models.Bounty
		if err := lockForUpdate(tx).
			First(&bounty, "id = ?", bountyID).Error; err != nil {
			return fmt.Errorf("failed to lock bounty: %w", err)
		}
		if !bounty.IsActive {
			return fmt.Errorf("bounty %s is not active", bountyID)
		}

		ent, err := s.Entitlements.lockEntitlement(tx, externalUserID, walletAddress)
		if err != nil {
			return err
		}
		source, err := s.Entitlements.ConsumeOne(tx, ent)
		if err != nil {
			return err
		}

		price := UnitPriceFor(&bounty)
		now := time.Now().UTC()

		entry := models.BountyEntry{
			ID:             uuid.NewString(),
			BountyID:       bounty.ID,
			ExternalUserID: externalUserID,
			Source:         string(source),
			PricePaid:      price,
			AskedAt:        now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to record entry: %w", err)
		}

		if err := tx.Model(&bounty).Updates(map[string]interface{}{
			"current_pool":        gorm.Expr("current_pool + ?", price),
			"total_entries":       gorm.Expr("total_entries + 1"),
			"last_entry_at":       now,
			"last_participant_id": externalUserID,
		}).Error; err != nil {
			return fmt.Errorf("failed to update bounty pool: %w", err)
		}

		result = EntryResult{
			Source:             source,
			PricePaid:          price,
			QuestionsRemaining: ent.TotalRemaining() - 1,
			CurrentPool:        bounty.CurrentPool + price,
			TotalEntries:       bounty.TotalEntries + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PoolStatus is the read model feeding the pricing inputs.
type PoolStatus struct {
	BountyID        string            `json:"bounty_id"`
	CurrentPool     float64           `json:"current_pool"`
	TotalEntries    int64             `json:"total_entries"`
	DifficultyLevel models.Difficulty `json:"difficulty_level"`
	QuestionCostUSD float64           `json:"question_cost_usd"`
	IsActive        bool              `json:"is_active"`
}

// PoolStatus returns the pool's public state plus the live entry price.
func (s *BountyService) PoolStatus(bountyID string) (*PoolStatus, error) {
	bounty, err := s.GetBounty(bountyID)
	if err != nil {
		return nil, err
	}
	return &PoolStatus{
		BountyID:        bounty.ID,
		CurrentPool:     bounty.CurrentPool,
		TotalEntries:    bounty.TotalEntries,
		DifficultyLevel: bounty.DifficultyLevel,
		QuestionCostUSD: UnitPriceFor(bounty),
		IsActive:        bounty.IsActive,
	}, nil
}
