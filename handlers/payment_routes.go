// handlers/payment_routes.go
package handlers

import (
	"context"
	"errors"
	"log"

	"bounty-entry-system/middleware"
	"bounty-entry-system/models"
	"bounty-entry-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupPaymentRoutes wires the payment session lifecycle. pollCtx is the
// service-wide context: poll loops outlive their originating request but die
// with the process.
func SetupPaymentRoutes(app *fiber.App, pollCtx context.Context, paymentService *services.PaymentService) {
	secured := app.Group("/payment", middleware.UserContextMiddleware())

	// Create a payment session. The caller takes the descriptor to its
	// wallet (or, on the mock path, straight to polling).
	secured.Post("/create", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			WalletAddress string  `json:"wallet_address"`
			AmountUSD     float64 `json:"amount_usd"`
			PaymentMethod string  `json:"payment_method"` // wallet | mock
			BountyID      string  `json:"bounty_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.WalletAddress == "" || req.BountyID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wallet_address and bounty_id are required"})
		}
		if req.AmountUSD <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount_usd must be > 0"})
		}

		method := models.PaymentMethod(req.PaymentMethod)
		if method == "" {
			method = models.MethodWallet
		}
		if method != models.MethodWallet && method != models.MethodMock {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_method must be 'wallet' or 'mock'"})
		}

		result, err := paymentService.CreateSession(userID, req.WalletAddress, req.BountyID, req.AmountUSD, method)
		if err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}

		// The mock path needs no external signature; it starts polling at once.
		if method == models.MethodMock {
			if err := paymentService.StartPolling(pollCtx, result.Session.ID); err != nil {
				log.Printf("Failed to start polling for mock session %s: %v", result.Session.ID, err)
			}
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"session_id":             result.Session.ID,
			"transaction_descriptor": result.TransactionDescriptor,
			"transaction_id":         result.TransactionID,
			"is_mock":                result.IsMock,
		})
	})

	// Attach the signed transaction signature and begin polling.
	secured.Post("/:id/signature", func(c *fiber.Ctx) error {
		sessionID := c.Params("id")

		var req struct {
			TxSignature string `json:"tx_signature"`
		}
		if err := c.BodyParser(&req); err != nil || req.TxSignature == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tx_signature is required"})
		}

		if err := paymentService.AttachSignature(sessionID, req.TxSignature); err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		if err := paymentService.StartPolling(pollCtx, sessionID); err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"message": "polling started", "session_id": sessionID})
	})

	// Settlement trigger: external confirmation delivered directly. Safe to
	// call more than once; replays are absorbed by the idempotency guard.
	secured.Post("/verify", func(c *fiber.Ctx) error {
		var req struct {
			TxSignature   string  `json:"tx_signature"`
			WalletAddress string  `json:"wallet_address"`
			AmountUSD     float64 `json:"amount_usd"`
			BountyID      string  `json:"bounty_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.TxSignature == "" || req.BountyID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tx_signature and bounty_id are required"})
		}

		outcome, err := paymentService.SettleConfirmed(req.TxSignature, req.WalletAddress, req.AmountUSD, req.BountyID)
		if err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{
			"questions_granted": outcome.QuestionsGranted,
			"credit_remainder":  outcome.CreditRemainder,
			"question_cost_usd": outcome.QuestionCostUSD,
			"price_increased":   outcome.PriceIncreased,
			"already_settled":   outcome.AlreadySettled,
		})
	})

	secured.Get("/:id", func(c *fiber.Ctx) error {
		session, err := paymentService.GetSession(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		if session.ExternalUserID != c.Locals("user_id").(string) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not your session"})
		}
		return c.JSON(session)
	})

	secured.Post("/:id/cancel", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		if err := paymentService.CancelSession(c.Params("id"), userID); err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "session cancelled — a confirmation that still arrives will be honored once"})
	})
}
