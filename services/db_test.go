package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"bounty-entry-system/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a per-test in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Bounty{},
		&models.BountyEntry{},
		&models.Entitlement{},
		&models.PaymentSession{},
		&models.ConsumedReference{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.WalletMirror{},
		&models.EscapeEvent{},
		&models.EscapePayout{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// createTestBounty seeds one pool directly.
func createTestBounty(t *testing.T, db *gorm.DB, difficulty models.Difficulty, pool float64, entries int64) *models.Bounty {
	t.Helper()
	b := models.Bounty{
		ID:              uuid.NewString(),
		Name:            "Test Bounty " + uuid.NewString()[:8],
		Slug:            "test-bounty-" + uuid.NewString()[:8],
		DifficultyLevel: difficulty,
		CurrentPool:     pool,
		TotalEntries:    entries,
		IsActive:        true,
	}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("failed to create test bounty: %v", err)
	}
	return &b
}

// recordTestEntry inserts a raw bounty entry row (participant tracking).
func recordTestEntry(t *testing.T, db *gorm.DB, bountyID, userID string, at time.Time) {
	t.Helper()
	entry := models.BountyEntry{
		ID:             uuid.NewString(),
		BountyID:       bountyID,
		ExternalUserID: userID,
		Source:         string(models.SourcePaid),
		AskedAt:        at,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to create test entry: %v", err)
	}
}
