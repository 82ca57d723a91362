package services

import (
	"strings"
	"testing"

	"bounty-entry-system/models"

	"github.com/google/uuid"
)

func TestGetOrCreateCodeIsStable(t *testing.T) {
	db := newTestDB(t)
	svc := NewReferralService(db, NewEntitlementService(db))

	code, err := svc.GetOrCreateCode("user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCode: %v", err)
	}
	if len(code.Code) != referralCodeLength {
		t.Errorf("code length = %d, want %d", len(code.Code), referralCodeLength)
	}
	for _, ch := range code.Code {
		if !strings.ContainsRune(referralCodeAlphabet, ch) {
			t.Errorf("code %q contains %q outside the alphabet", code.Code, ch)
		}
	}

	again, err := svc.GetOrCreateCode("user-1")
	if err != nil {
		t.Fatalf("GetOrCreateCode (repeat): %v", err)
	}
	if again.Code != code.Code {
		t.Errorf("repeat call minted a new code: %s vs %s", again.Code, code.Code)
	}

	other, err := svc.GetOrCreateCode("user-2")
	if err != nil {
		t.Fatalf("GetOrCreateCode (other user): %v", err)
	}
	if other.Code == code.Code {
		t.Error("two users share a referral code")
	}
}

func TestRedeemAwardsBothSides(t *testing.T) {
	db := newTestDB(t)
	ents := NewEntitlementService(db)
	svc := NewReferralService(db, ents)

	code, err := svc.GetOrCreateCode("referrer")
	if err != nil {
		t.Fatalf("GetOrCreateCode: %v", err)
	}

	result, err := svc.Redeem("referee", code.Code, "wallet-referee", "referee@example.com")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if result.EntriesAwarded != ReferralFreeQuestions {
		t.Errorf("entries_awarded = %d, want %d", result.EntriesAwarded, ReferralFreeQuestions)
	}

	for _, userID := range []string{"referrer", "referee"} {
		ent, err := ents.Balance(userID, "")
		if err != nil {
			t.Fatalf("Balance %s: %v", userID, err)
		}
		if ent.ReferralRemaining != ReferralFreeQuestions {
			t.Errorf("%s referral_remaining = %d, want %d", userID, ent.ReferralRemaining, ReferralFreeQuestions)
		}
	}
}

func TestRedeemRejections(t *testing.T) {
	db := newTestDB(t)
	ents := NewEntitlementService(db)
	svc := NewReferralService(db, ents)

	code, err := svc.GetOrCreateCode("referrer")
	if err != nil {
		t.Fatalf("GetOrCreateCode: %v", err)
	}

	if _, err := svc.Redeem("referrer", code.Code, "", ""); err == nil {
		t.Error("self-referral accepted, want rejection")
	}
	if _, err := svc.Redeem("referee", "NOPE42", "", ""); err == nil {
		t.Error("unknown code accepted, want rejection")
	}

	if _, err := svc.Redeem("referee", code.Code, "", ""); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	// A user can only ever be referred once, same code or not.
	other, _ := svc.GetOrCreateCode("another-referrer")
	if _, err := svc.Redeem("referee", other.Code, "", ""); err == nil {
		t.Error("second referral of the same user accepted, want rejection")
	}

	// Nothing awarded by the rejected attempts.
	ent, _ := ents.Balance("referrer", "")
	if ent.ReferralRemaining != ReferralFreeQuestions {
		t.Errorf("referrer referral_remaining = %d, want %d", ent.ReferralRemaining, ReferralFreeQuestions)
	}
}

// A referee sharing a wallet or email with the referrer is shared-identity
// abuse and is rejected.
func TestRedeemIdentityConflict(t *testing.T) {
	db := newTestDB(t)
	svc := NewReferralService(db, NewEntitlementService(db))

	code, err := svc.GetOrCreateCode("referrer")
	if err != nil {
		t.Fatalf("GetOrCreateCode: %v", err)
	}
	mirror := models.WalletMirror{
		ID:       uuid.NewString(),
		UserID:   "referrer",
		Chain:    "solana",
		Address:  "wallet-shared",
		Email:    "shared@example.com",
		IsActive: true,
	}
	if err := db.Create(&mirror).Error; err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	if _, err := svc.Redeem("referee-a", code.Code, "wallet-shared", ""); err == nil {
		t.Error("shared wallet accepted, want rejection")
	}
	if _, err := svc.Redeem("referee-b", code.Code, "", "shared@example.com"); err == nil {
		t.Error("shared email accepted, want rejection")
	}
	// A clean identity still goes through.
	if _, err := svc.Redeem("referee-c", code.Code, "wallet-clean", "clean@example.com"); err != nil {
		t.Errorf("clean referral rejected: %v", err)
	}
}
