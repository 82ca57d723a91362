package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"bounty-entry-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Polling parameters. 60 attempts at 5 seconds gives a 5-minute ceiling
// before a still-pending session times out.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 60
)

// ConfirmationStatus is what one poll of the external status source yields.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationCompleted ConfirmationStatus = "completed"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationCancelled ConfirmationStatus = "cancelled"
)

// ConfirmationChecker is the "confirm externally" boundary. The wallet and
// mock paths implement it identically in state-machine terms; the mock only
// skips real network calls and adds an artificial delay.
type ConfirmationChecker interface {
	CheckConfirmation(ctx context.Context, session *models.PaymentSession) (ConfirmationStatus, error)
}

// SettleOutcome reports one settlement attempt for a confirmed payment.
type SettleOutcome struct {
	SessionID        string  `json:"session_id"`
	QuestionsGranted int64   `json:"questions_granted"`
	CreditRemainder  float64 `json:"credit_remainder"`
	QuestionCostUSD  float64 `json:"question_cost_usd"`
	PriceIncreased   bool    `json:"price_increased"`
	// AlreadySettled marks a replayed signature: nothing was credited this
	// time, the fields above echo the original settlement.
	AlreadySettled bool `json:"already_settled"`
}

type PaymentService struct {
	DB           *gorm.DB
	Entitlements *EntitlementService
	Bounties     *BountyService

	PollInterval    time.Duration
	MaxPollAttempts int

	checkers map[models.PaymentMethod]ConfirmationChecker

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // session id → poll loop cancel
}

func NewPaymentService(db *gorm.DB, entitlements *EntitlementService, bounties *BountyService) *PaymentService {
	return &PaymentService{
		DB:              db,
		Entitlements:    entitlements,
		Bounties:        bounties,
		PollInterval:    DefaultPollInterval,
		MaxPollAttempts: DefaultMaxPollAttempts,
		checkers:        map[models.PaymentMethod]ConfirmationChecker{},
		cancels:         map[string]context.CancelFunc{},
	}
}

// RegisterChecker wires a confirmation strategy for one payment method.
func (s *PaymentService) RegisterChecker(method models.PaymentMethod, checker ConfirmationChecker) {
	s.checkers[method] = checker
}

// CreateSessionResult is returned to the caller that will sign/submit the
// payment externally.
type CreateSessionResult struct {
	Session               *models.PaymentSession `json:"session"`
	TransactionDescriptor string                 `json:"transaction_descriptor"`
	TransactionID         string                 `json:"transaction_id"`
	IsMock                bool                   `json:"is_mock"`
}

// CreateSession registers a payment attempt and returns the descriptor the
// frontend needs to proceed. The mock path gets a synthetic signature up
// front; the wallet path gets a pending placeholder that VerifyPayment
// replaces with the real transaction signature.
func (s *PaymentService) CreateSession(externalUserID, walletAddress, bountyID string, amountUSD float64, method models.PaymentMethod) (*CreateSessionResult, error) {
	if amountUSD <= 0 {
		return nil, fmt.Errorf("amount_usd must be positive, got %.2f", amountUSD)
	}
	if _, ok := s.checkers[method]; !ok {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}

	bounty, err := s.Bounties.GetBounty(bountyID)
	if err != nil {
		return nil, fmt.Errorf("bounty not found: %w", err)
	}

	// One open session per (user, pending payment).
	var open models.PaymentSession
	err = s.DB.Where("external_user_id = ? AND state IN ?", externalUserID,
		[]models.SessionState{models.SessionCreated, models.SessionAwaiting, models.SessionPolling}).
		First(&open).Error
	if err == nil {
		return nil, fmt.Errorf("user %s already has an open payment session %s", externalUserID, open.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	isMock := method == models.MethodMock
	signature := "pending-" + uuid.NewString()
	descriptor := fmt.Sprintf("transfer:%s:%.2f", walletAddress, amountUSD)
	if isMock {
		signature = "mock-" + uuid.NewString()
		descriptor = fmt.Sprintf("mock-transfer:%s:%.2f", walletAddress, amountUSD)
	}

	session := models.PaymentSession{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		WalletAddress:  walletAddress,
		BountyID:       bountyID,
		TxSignature:    signature,
		AmountUSD:      amountUSD,
		Method:         method,
		State:          models.SessionCreated,
		QuotedPrice:    UnitPriceFor(bounty),
	}
	if err := s.DB.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment session: %w", err)
	}
	log.Printf("💳 Payment session %s created: $%.2f via %s for user %s", session.ID, amountUSD, method, externalUserID)

	return &CreateSessionResult{
		Session:               &session,
		TransactionDescriptor: descriptor,
		TransactionID:         signature,
		IsMock:                isMock,
	}, nil
}

// GetSession fetches one session by id.
func (s *PaymentService) GetSession(id string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	if err := s.DB.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// AttachSignature records the real transaction signature once the wallet has
// signed, and moves the session to AwaitingConfirmation.
func (s *PaymentService) AttachSignature(sessionID, txSignature string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var session models.PaymentSession
		if err := lockForUpdate(tx).
			First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.State.IsTerminal() {
			return fmt.Errorf("session %s is already %s", sessionID, session.State)
		}
		return tx.Model(&session).Updates(map[string]interface{}{
			"tx_signature": txSignature,
			"state":        models.SessionAwaiting,
		}).Error
	})
}

// StartPolling launches the session's poll loop: every PollInterval the
// external status source is checked, up to MaxPollAttempts. Transient
// failures are not surfaced per-attempt, only on exhaustion. The loop is
// owned by the session id and cancellable via CancelSession.
func (s *PaymentService) StartPolling(ctx context.Context, sessionID string) error {
	if err := s.transition(sessionID, models.SessionPolling); err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[sessionID] = cancel
	s.mu.Unlock()

	go s.pollLoop(pollCtx, sessionID)
	return nil
}

func (s *PaymentService) pollLoop(ctx context.Context, sessionID string) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, sessionID)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Polling stopped for session %s", sessionID)
			return
		case <-ticker.C:
			session, err := s.GetSession(sessionID)
			if err != nil {
				log.Printf("❌ Poll: failed to load session %s: %v", sessionID, err)
				return
			}
			if session.State.IsTerminal() {
				return
			}

			attempts := session.PollAttempts + 1
			if err := s.DB.Model(session).Update("poll_attempts", attempts).Error; err != nil {
				log.Printf("❌ Poll: failed to bump attempts for %s: %v", sessionID, err)
			}

			checker := s.checkers[session.Method]
			status, err := checker.CheckConfirmation(ctx, session)
			if err != nil {
				// Transient; retry until the cap.
				log.Printf("⚠️  Poll %d/%d for session %s failed: %v", attempts, s.MaxPollAttempts, sessionID, err)
				status = ConfirmationPending
			}

			switch status {
			case ConfirmationCompleted:
				if _, err := s.SettleConfirmed(session.TxSignature, session.WalletAddress, session.AmountUSD, session.BountyID); err != nil {
					log.Printf("❌ Settlement failed for session %s: %v", sessionID, err)
				}
				return
			case ConfirmationFailed, ConfirmationCancelled:
				s.markFailed(sessionID, "payment "+string(status)+" by processor")
				return
			}

			if attempts >= s.MaxPollAttempts {
				// Still pending at the cap: TimedOut, not Failed — the payment
				// may yet complete and a later confirmation is still honored.
				s.transition(sessionID, models.SessionTimedOut)
				log.Printf("⏰ Session %s timed out after %d poll attempts", sessionID, attempts)
				return
			}
		}
	}
}

// CancelSession abandons a session: polling stops and the session fails with
// a user-abandoned reason. Advisory only — a confirmation arriving afterward
// is still settled exactly once through the idempotency guard.
func (s *PaymentService) CancelSession(sessionID, externalUserID string) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.ExternalUserID != externalUserID {
		return fmt.Errorf("session %s is not owned by user %s", sessionID, externalUserID)
	}
	if session.State.IsTerminal() {
		return fmt.Errorf("session %s is already %s", sessionID, session.State)
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[sessionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	return s.DB.Model(&models.PaymentSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"cancelled":   true,
			"state":       models.SessionFailed,
			"fail_reason": "cancelled by user",
		}).Error
}

// SettleConfirmed is the single settlement path for a confirmed payment,
// whether it arrives from the poll loop or straight from the verify
// endpoint. At-least-once delivery in, at-most-once crediting out:
//
//  1. the consumed-reference insert hits a unique index, so a replayed
//     signature is detected atomically and ignored (logged, not surfaced);
//  2. the unit price is read at settlement time under the bounty row lock —
//     escalation while the payment was in flight reduces entries granted
//     and is flagged, not blocked;
//  3. ledger credit, reference record, and session transition commit
//     together or not at all. Fail closed: any ambiguity means no credit.
func (s *PaymentService) SettleConfirmed(txSignature, walletAddress string, amountUSD float64, bountyID string) (*SettleOutcome, error) {
	var outcome SettleOutcome

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var session models.PaymentSession
		if err := lockForUpdate(tx).
			First(&session, "tx_signature = ?", txSignature).Error; err != nil {
			return fmt.Errorf("no payment session for signature %s: %w", txSignature, err)
		}

		if session.State == models.SessionSettled {
			log.Printf("🔁 Replayed signature %s for settled session %s — ignoring (duplicate delivery)", txSignature, session.ID)
			outcome = SettleOutcome{
				SessionID:        session.ID,
				QuestionsGranted: session.QuestionsGranted,
				CreditRemainder:  session.CreditRemainder,
				QuestionCostUSD:  session.QuotedPrice,
				AlreadySettled:   true,
			}
			return nil
		}

		ref := models.ConsumedReference{
			ID:          uuid.NewString(),
			TxSignature: txSignature,
			SessionID:   session.ID,
			AmountUSD:   amountUSD,
		}
		if err := tx.Create(&ref).Error; err != nil {
			if isUniqueViolation(err) {
				log.Printf("🔁 Signature %s already consumed — ignoring replay", txSignature)
				outcome = SettleOutcome{SessionID: session.ID, AlreadySettled: true}
				return nil
			}
			return fmt.Errorf("failed to record consumed reference: %w", err)
		}

		var bounty models.Bounty
		if err := lockForUpdate(tx).
			First(&bounty, "id = ?", bountyID).Error; err != nil {
			return fmt.Errorf("failed to lock bounty: %w", err)
		}
		price := UnitPriceFor(&bounty)

		ent, err := s.Entitlements.lockEntitlement(tx, session.ExternalUserID, walletAddress)
		if err != nil {
			return err
		}

		settled, err := Settle(amountUSD, ent.Credit, price)
		if err != nil {
			return err
		}
		settled.PriceIncreased = session.QuotedPrice > 0 && price > session.QuotedPrice
		if settled.PriceIncreased {
			log.Printf("⚠️  Price escalated during session %s: quoted $%.2f, settling at $%.2f", session.ID, session.QuotedPrice, price)
		}

		if err := s.Entitlements.ApplySettlement(tx, session.ExternalUserID, walletAddress, settled.EntriesGranted, settled.NewCredit); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&session).Updates(map[string]interface{}{
			"state":             models.SessionSettled,
			"settled_at":        now,
			"questions_granted": settled.EntriesGranted,
			"credit_remainder":  settled.NewCredit,
		}).Error; err != nil {
			return fmt.Errorf("failed to finalize session: %w", err)
		}

		outcome = SettleOutcome{
			SessionID:        session.ID,
			QuestionsGranted: settled.EntriesGranted,
			CreditRemainder:  settled.NewCredit,
			QuestionCostUSD:  price,
			PriceIncreased:   settled.PriceIncreased,
		}
		log.Printf("✅ Settled %s: $%.2f → %d question(s) + $%.2f credit at $%.2f/entry",
			session.ID, amountUSD, settled.EntriesGranted, settled.NewCredit, price)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stop any poll loop still running for this session.
	s.mu.Lock()
	if cancel, ok := s.cancels[outcome.SessionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	return &outcome, nil
}

func (s *PaymentService) markFailed(sessionID, reason string) {
	if err := s.DB.Model(&models.PaymentSession{}).
		Where("id = ? AND state NOT IN ?", sessionID,
			[]models.SessionState{models.SessionSettled, models.SessionFailed, models.SessionTimedOut}).
		Updates(map[string]interface{}{
			"state":       models.SessionFailed,
			"fail_reason": reason,
		}).Error; err != nil {
		log.Printf("❌ Failed to mark session %s failed: %v", sessionID, err)
		return
	}
	log.Printf("❌ Session %s failed: %s", sessionID, reason)
}

func (s *PaymentService) transition(sessionID string, to models.SessionState) error {
	res := s.DB.Model(&models.PaymentSession{}).
		Where("id = ? AND state NOT IN ?", sessionID,
			[]models.SessionState{models.SessionSettled, models.SessionFailed, models.SessionTimedOut}).
		Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s is already terminal", sessionID)
	}
	return nil
}

// isUniqueViolation detects a duplicate-key insert across postgres and the
// sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
