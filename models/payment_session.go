package models

import "time"

// SessionState is the lifecycle of one payment attempt.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionAwaiting SessionState = "awaiting_confirmation"
	SessionPolling  SessionState = "polling"
	SessionSettled  SessionState = "settled"
	SessionFailed   SessionState = "failed"
	SessionTimedOut SessionState = "timed_out"
)

// IsTerminal reports whether no further polling may occur.
func (s SessionState) IsTerminal() bool {
	return s == SessionSettled || s == SessionFailed || s == SessionTimedOut
}

// PaymentMethod selects the confirmation strategy for a session.
type PaymentMethod string

const (
	MethodWallet PaymentMethod = "wallet" // on-chain wallet transfer
	MethodMock   PaymentMethod = "mock"   // simulated path for test environments
)

// PaymentSession tracks one payment attempt from creation through external
// confirmation to settlement. Exactly one open session per (user, signature).
type PaymentSession struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"index;not null" json:"external_user_id"`
	WalletAddress  string `gorm:"index;not null" json:"wallet_address"`
	BountyID       string `gorm:"index;not null" json:"bounty_id"`

	// TxSignature is the external reference: a transaction signature for the
	// wallet path, a generated mock id for the mock path.
	TxSignature string `gorm:"uniqueIndex;not null" json:"tx_signature"`

	AmountUSD float64       `gorm:"not null" json:"amount_usd"`
	Method    PaymentMethod `gorm:"not null;default:'wallet'" json:"method"`
	State     SessionState  `gorm:"not null;default:'created';index" json:"state"`

	// QuotedPrice is the unit price shown when the session was opened.
	// Settlement re-reads the live price; a difference is surfaced as a
	// warning on the settlement result, never as a blocker.
	QuotedPrice float64 `json:"quoted_price"`

	PollAttempts int        `gorm:"not null;default:0" json:"poll_attempts"`
	Cancelled    bool       `gorm:"not null;default:false" json:"cancelled"`
	FailReason   string     `json:"fail_reason,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`

	// Filled on settlement so replays and status reads can report what the
	// payment actually bought.
	QuestionsGranted int64   `json:"questions_granted"`
	CreditRemainder  float64 `json:"credit_remainder"`

	Timestamps
}

// ConsumedReference is the durable idempotency guard: one row per external
// signature that has already been settled. The unique index is what makes
// check-and-set atomic — a second settlement of the same signature fails the
// insert and is ignored at the ledger boundary.
type ConsumedReference struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	TxSignature string    `gorm:"uniqueIndex;not null" json:"tx_signature"`
	SessionID   string    `gorm:"index;not null" json:"session_id"`
	AmountUSD   float64   `json:"amount_usd"`
	ConsumedAt  time.Time `json:"consumed_at" gorm:"autoCreateTime"`
}
