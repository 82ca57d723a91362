package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"bounty-entry-system/models"
)

// WalletConfirmationChecker polls the payment verification service for the
// on-chain status of a transaction signature.
type WalletConfirmationChecker struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewWalletConfirmationChecker() *WalletConfirmationChecker {
	baseURL := os.Getenv("PAYMENT_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("PAYMENT_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("BOUNTY_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("BOUNTY_SERVICE_TOKEN environment variable is required for payment verification")
	}

	return &WalletConfirmationChecker{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *WalletConfirmationChecker) CheckConfirmation(ctx context.Context, session *models.PaymentSession) (ConfirmationStatus, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/payments/status", c.BaseURL))
	if err != nil {
		return ConfirmationPending, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("signature", session.TxSignature)
	q.Set("wallet", session.WalletAddress)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return ConfirmationPending, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ConfirmationPending, fmt.Errorf("failed to call payment service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ConfirmationPending, fmt.Errorf("payment service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return ConfirmationPending, fmt.Errorf("failed to decode payment status response: %w", err)
	}

	switch response.Status {
	case "completed", "confirmed", "finalized":
		return ConfirmationCompleted, nil
	case "failed":
		return ConfirmationFailed, nil
	case "cancelled":
		return ConfirmationCancelled, nil
	default:
		return ConfirmationPending, nil
	}
}

// MockConfirmationChecker simulates the confirmation flow for test
// environments: no network calls, identical state machine, and an
// artificial delay before the payment reads as completed.
type MockConfirmationChecker struct {
	Delay time.Duration
}

func NewMockConfirmationChecker() *MockConfirmationChecker {
	return &MockConfirmationChecker{Delay: 10 * time.Second}
}

func (c *MockConfirmationChecker) CheckConfirmation(_ context.Context, session *models.PaymentSession) (ConfirmationStatus, error) {
	if time.Since(session.CreatedAt) < c.Delay {
		return ConfirmationPending, nil
	}
	log.Printf("🧪 MOCK confirmation completed for %s ($%.2f — no real payment made)", session.TxSignature, session.AmountUSD)
	return ConfirmationCompleted, nil
}
