package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bounty-entry-system/models"
	"bounty-entry-system/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EscapeThreshold is the fixed idle window: 24 hours without an entry on an
// active pool triggers redistribution.
const EscapeThreshold = 24 * time.Hour

type EscapeService struct {
	DB *gorm.DB

	// Threshold is EscapeThreshold in production; tests shorten it.
	Threshold time.Duration

	// ArchiveReports uploads each distribution report to R2 for audit.
	ArchiveReports bool
}

func NewEscapeService(db *gorm.DB) *EscapeService {
	return &EscapeService{DB: db, Threshold: EscapeThreshold}
}

// StartEscapeScheduler runs the idle sweep once a minute. The scheduler only
// observes two instants per pool: threshold crossed, and reset performed.
func (s *EscapeService) StartEscapeScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			var bounties []models.Bounty
			cutoff := time.Now().UTC().Add(-s.Threshold)
			err := s.DB.Where("is_active = ? AND last_entry_at IS NOT NULL AND last_entry_at <= ?", true, cutoff).
				Find(&bounties).Error
			if err != nil {
				log.Printf("[EscapeScheduler] DB error: %v", err)
				return
			}

			for _, b := range bounties {
				event, err := s.TriggerEscape(b.ID)
				if err != nil {
					log.Printf("[EscapeScheduler] Failed to trigger escape for bounty %s: %v", b.ID, err)
					continue
				}
				if event != nil {
					log.Printf("🏃 Escape plan executed for %s: $%.2f to %d participant(s)", b.Name, event.PoolAmount, event.ParticipantCount)
				}
			}
		}),
	)
}

// EscapeStatus is the read-only countdown view.
type EscapeStatus struct {
	IsActive              bool    `json:"is_active"`
	TimeSinceLastQuestion float64 `json:"time_since_last_question"` // seconds
	TimeUntilEscape       float64 `json:"time_until_escape"`        // seconds, 0 when due
	ShouldTrigger         bool    `json:"should_trigger"`
	LastParticipantID     string  `json:"last_participant_id,omitempty"`
}

// Status derives the countdown for one pool. Purely derived state.
func (s *EscapeService) Status(bountyID string) (*EscapeStatus, error) {
	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ?", bountyID).Error; err != nil {
		return nil, err
	}

	status := &EscapeStatus{IsActive: bounty.IsActive}
	if bounty.LastParticipantID != nil {
		status.LastParticipantID = *bounty.LastParticipantID
	}
	if bounty.LastEntryAt == nil {
		status.TimeUntilEscape = s.Threshold.Seconds()
		return status, nil
	}

	idle := time.Since(*bounty.LastEntryAt)
	status.TimeSinceLastQuestion = idle.Seconds()
	if idle >= s.Threshold {
		status.ShouldTrigger = bounty.IsActive
	} else {
		status.TimeUntilEscape = (s.Threshold - idle).Seconds()
	}
	return status, nil
}

// TriggerEscape redistributes an idle pool and resets it:
//   - 80% of the pool split equally among the distinct users with at least
//     one entry since the previous reset; the cent remainder of the split
//     goes to the earliest participant so the total is exact;
//   - 20% to the user who made the most recent entry before the idle period;
//   - then the pool drops to its tier floor, the entry count (and with it
//     the price escalation) resets to zero, and the participant set clears.
//
// Runs under the bounty row lock so a settlement racing the trigger cannot
// interleave. Returns nil with no error when the pool turns out not to be
// due (already reset by a concurrent sweep, or an entry landed meanwhile).
func (s *EscapeService) TriggerEscape(bountyID string) (*models.EscapeEvent, error) {
	var event *models.EscapeEvent

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var bounty models.Bounty
		if err := lockForUpdate(tx).
			First(&bounty, "id = ?", bountyID).Error; err != nil {
			return fmt.Errorf("failed to lock bounty: %w", err)
		}

		// Re-check under the lock.
		if !bounty.IsActive || bounty.LastEntryAt == nil ||
			time.Since(*bounty.LastEntryAt) < s.Threshold {
			return nil
		}
		if bounty.LastParticipantID == nil {
			return nil
		}

		// Distinct participants since the previous reset, earliest first.
		var participants []string
		if err := tx.Model(&models.BountyEntry{}).
			Where("bounty_id = ?", bountyID).
			Group("external_user_id").
			Order("MIN(asked_at) ASC").
			Pluck("external_user_id", &participants).Error; err != nil {
			return fmt.Errorf("failed to load participants: %w", err)
		}
		if len(participants) == 0 {
			return nil
		}

		poolCents := toCents(bounty.CurrentPool)
		equalPoolCents := poolCents * 80 / 100
		lastActorCents := poolCents - equalPoolCents

		shareCents := equalPoolCents / int64(len(participants))
		remainderCents := equalPoolCents % int64(len(participants))

		ev := models.EscapeEvent{
			ID:                uuid.NewString(),
			BountyID:          bountyID,
			PoolAmount:        bounty.CurrentPool,
			ParticipantCount:  len(participants),
			LastParticipantID: *bounty.LastParticipantID,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("failed to create escape event: %w", err)
		}

		payouts := make([]models.EscapePayout, 0, len(participants)+1)
		for i, userID := range participants {
			amount := shareCents
			if i == 0 {
				amount += remainderCents
			}
			payouts = append(payouts, models.EscapePayout{
				ID:             uuid.NewString(),
				EscapeEventID:  ev.ID,
				ExternalUserID: userID,
				AmountUSD:      fromCents(amount),
			})
		}
		payouts = append(payouts, models.EscapePayout{
			ID:             uuid.NewString(),
			EscapeEventID:  ev.ID,
			ExternalUserID: *bounty.LastParticipantID,
			AmountUSD:      fromCents(lastActorCents),
			IsLastActor:    true,
		})
		if err := tx.Create(&payouts).Error; err != nil {
			return fmt.Errorf("failed to create payouts: %w", err)
		}

		// Reset: pool to the tier floor, counter (and price escalation) to
		// zero, participant set cleared.
		if err := tx.Model(&bounty).Updates(map[string]interface{}{
			"current_pool":        bounty.StartingPool(),
			"total_entries":       0,
			"last_entry_at":       nil,
			"last_participant_id": nil,
		}).Error; err != nil {
			return fmt.Errorf("failed to reset bounty: %w", err)
		}
		if err := tx.Where("bounty_id = ?", bountyID).Delete(&models.BountyEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear participant set: %w", err)
		}

		ev.Payouts = payouts
		event = &ev
		return nil
	})
	if err != nil || event == nil {
		return nil, err
	}

	if s.ArchiveReports {
		s.archiveReport(event)
	}
	return event, nil
}

// archiveReport uploads the distribution record to R2. Best-effort: the
// distribution already committed, so an upload failure is only logged.
func (s *EscapeService) archiveReport(event *models.EscapeEvent) {
	payload, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		log.Printf("❌ Failed to marshal escape report %s: %v", event.ID, err)
		return
	}
	key := fmt.Sprintf("escape-reports/%s/%s.json", event.BountyID, event.ID)
	url, err := utils.UploadBytesToR2(payload, key, "application/json")
	if err != nil {
		log.Printf("❌ Failed to archive escape report %s: %v", event.ID, err)
		return
	}
	log.Printf("📦 Escape report archived: %s", url)
}
