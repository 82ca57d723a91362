package services

import (
	"math"
	"testing"
	"time"

	"bounty-entry-system/models"
)

// seedIdleBounty backdates a pool with n participants so the idle threshold
// has been crossed. The last participant in the slice is the last actor.
func seedIdleBounty(t *testing.T, svc *EscapeService, difficulty models.Difficulty, pool float64, participants []string, idle time.Duration) *models.Bounty {
	t.Helper()
	bounty := createTestBounty(t, svc.DB, difficulty, pool, int64(len(participants)))

	base := time.Now().UTC().Add(-idle - time.Duration(len(participants))*time.Minute)
	for i, userID := range participants {
		recordTestEntry(t, svc.DB, bounty.ID, userID, base.Add(time.Duration(i)*time.Minute))
	}

	last := participants[len(participants)-1]
	lastAt := time.Now().UTC().Add(-idle)
	if err := svc.DB.Model(bounty).Updates(map[string]interface{}{
		"last_entry_at":       lastAt,
		"last_participant_id": last,
	}).Error; err != nil {
		t.Fatalf("backdate bounty: %v", err)
	}
	return bounty
}

func TestTriggerEscapeDistributesAndResets(t *testing.T) {
	db := newTestDB(t)
	svc := NewEscapeService(db)
	svc.Threshold = time.Hour

	participants := []string{"p1", "p2", "p3", "p4", "p5"}
	bounty := seedIdleBounty(t, svc, models.DifficultyEasy, 1000.00, participants, 2*time.Hour)

	event, err := svc.TriggerEscape(bounty.ID)
	if err != nil {
		t.Fatalf("TriggerEscape: %v", err)
	}
	if event == nil {
		t.Fatal("TriggerEscape returned nil event for a due pool")
	}
	if event.PoolAmount != 1000.00 {
		t.Errorf("pool_amount = %.2f, want 1000.00", event.PoolAmount)
	}
	if event.ParticipantCount != 5 {
		t.Errorf("participant_count = %d, want 5", event.ParticipantCount)
	}
	if event.LastParticipantID != "p5" {
		t.Errorf("last_participant_id = %s, want p5", event.LastParticipantID)
	}

	// $1,000: 80% split five ways = $160.00 each, 20% = $200.00 to p5.
	var total float64
	equal, lastActor := 0, 0
	for _, p := range event.Payouts {
		total += p.AmountUSD
		if p.IsLastActor {
			lastActor++
			if p.ExternalUserID != "p5" {
				t.Errorf("last-actor payout went to %s, want p5", p.ExternalUserID)
			}
			if p.AmountUSD != 200.00 {
				t.Errorf("last-actor payout = %.2f, want 200.00", p.AmountUSD)
			}
			continue
		}
		equal++
		if p.AmountUSD != 160.00 {
			t.Errorf("equal-share payout to %s = %.2f, want 160.00", p.ExternalUserID, p.AmountUSD)
		}
	}
	if equal != 5 || lastActor != 1 {
		t.Errorf("payout rows = %d equal + %d last-actor, want 5 + 1", equal, lastActor)
	}
	if math.Abs(total-1000.00) > 1e-9 {
		t.Errorf("payout total = %.4f, want exactly 1000.00", total)
	}

	// Reset: pool to the tier floor, counters and participant set cleared.
	var b models.Bounty
	db.First(&b, "id = ?", bounty.ID)
	if b.CurrentPool != 500.00 {
		t.Errorf("current_pool after reset = %.2f, want 500.00", b.CurrentPool)
	}
	if b.TotalEntries != 0 {
		t.Errorf("total_entries after reset = %d, want 0", b.TotalEntries)
	}
	if b.LastEntryAt != nil || b.LastParticipantID != nil {
		t.Errorf("activity markers not cleared: %v / %v", b.LastEntryAt, b.LastParticipantID)
	}
	var entries int64
	db.Model(&models.BountyEntry{}).Where("bounty_id = ?", bounty.ID).Count(&entries)
	if entries != 0 {
		t.Errorf("participant set not cleared: %d entries remain", entries)
	}
}

// When the 80% pool does not divide evenly, the leftover cents go to the
// earliest participant so the distribution always totals the pool exactly.
func TestTriggerEscapeRemainderGoesToEarliest(t *testing.T) {
	db := newTestDB(t)
	svc := NewEscapeService(db)
	svc.Threshold = time.Hour

	// $100.01 → 8000 equal cents / 3 participants = 2666 each, 2 left over.
	participants := []string{"early", "middle", "late"}
	bounty := seedIdleBounty(t, svc, models.DifficultyMedium, 100.01, participants, 2*time.Hour)

	event, err := svc.TriggerEscape(bounty.ID)
	if err != nil {
		t.Fatalf("TriggerEscape: %v", err)
	}
	if event == nil {
		t.Fatal("TriggerEscape returned nil event for a due pool")
	}

	want := map[string]float64{
		"early":  26.68, // 2666 + the 2-cent remainder
		"middle": 26.66,
		"late":   26.66,
	}
	var total float64
	for _, p := range event.Payouts {
		total += p.AmountUSD
		if p.IsLastActor {
			if p.AmountUSD != 20.01 {
				t.Errorf("last-actor payout = %.2f, want 20.01", p.AmountUSD)
			}
			continue
		}
		if w, ok := want[p.ExternalUserID]; !ok || p.AmountUSD != w {
			t.Errorf("payout to %s = %.2f, want %.2f", p.ExternalUserID, p.AmountUSD, w)
		}
	}
	if math.Abs(total-100.01) > 1e-9 {
		t.Errorf("payout total = %.4f, want exactly 100.01", total)
	}
}

func TestTriggerEscapeSkipsNotDuePool(t *testing.T) {
	db := newTestDB(t)
	svc := NewEscapeService(db)
	svc.Threshold = time.Hour

	// Active only 10 minutes ago: not due.
	bounty := seedIdleBounty(t, svc, models.DifficultyEasy, 750.00, []string{"p1", "p2"}, 10*time.Minute)

	event, err := svc.TriggerEscape(bounty.ID)
	if err != nil {
		t.Fatalf("TriggerEscape: %v", err)
	}
	if event != nil {
		t.Fatal("TriggerEscape fired for a pool inside the idle window")
	}

	var b models.Bounty
	db.First(&b, "id = ?", bounty.ID)
	if b.CurrentPool != 750.00 {
		t.Errorf("pool mutated on a skipped trigger: %.2f", b.CurrentPool)
	}
	var events int64
	db.Model(&models.EscapeEvent{}).Where("bounty_id = ?", bounty.ID).Count(&events)
	if events != 0 {
		t.Errorf("escape events = %d, want 0", events)
	}
}

func TestTriggerEscapeSkipsPoolWithNoEntries(t *testing.T) {
	db := newTestDB(t)
	svc := NewEscapeService(db)
	svc.Threshold = time.Hour

	bounty := createTestBounty(t, db, models.DifficultyEasy, 500.00, 0)
	event, err := svc.TriggerEscape(bounty.ID)
	if err != nil {
		t.Fatalf("TriggerEscape: %v", err)
	}
	if event != nil {
		t.Fatal("TriggerEscape fired for a pool that never had an entry")
	}
}

func TestEscapeStatusCountdown(t *testing.T) {
	db := newTestDB(t)
	svc := NewEscapeService(db)
	svc.Threshold = time.Hour

	bounty := seedIdleBounty(t, svc, models.DifficultyEasy, 600.00, []string{"p1"}, 30*time.Minute)

	status, err := svc.Status(bounty.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ShouldTrigger {
		t.Error("should_trigger set inside the idle window")
	}
	if status.TimeUntilEscape < 29*time.Minute.Seconds() || status.TimeUntilEscape > 30*time.Minute.Seconds() {
		t.Errorf("time_until_escape = %.0fs, want ~1800s", status.TimeUntilEscape)
	}
	if status.LastParticipantID != "p1" {
		t.Errorf("last_participant_id = %s, want p1", status.LastParticipantID)
	}

	// Past the threshold the countdown reads zero and the trigger arms.
	if err := db.Model(bounty).
		Update("last_entry_at", time.Now().UTC().Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	status, err = svc.Status(bounty.ID)
	if err != nil {
		t.Fatalf("Status (overdue): %v", err)
	}
	if !status.ShouldTrigger {
		t.Error("should_trigger not set for an overdue pool")
	}
	if status.TimeUntilEscape != 0 {
		t.Errorf("time_until_escape = %.0fs, want 0", status.TimeUntilEscape)
	}
}

func TestEscapeStatusFreshPool(t *testing.T) {
	db := newTestDB(t)
	svc := NewEscapeService(db)
	svc.Threshold = time.Hour

	bounty := createTestBounty(t, db, models.DifficultyMedium, 2500.00, 0)
	status, err := svc.Status(bounty.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ShouldTrigger {
		t.Error("should_trigger set for a pool with no entries")
	}
	if status.TimeUntilEscape != svc.Threshold.Seconds() {
		t.Errorf("time_until_escape = %.0fs, want full threshold", status.TimeUntilEscape)
	}
}
