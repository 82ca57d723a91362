// handlers/bounty_routes.go
package handlers

import (
	"errors"

	"bounty-entry-system/middleware"
	"bounty-entry-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupBountyRoutes(app *fiber.App, bountyService *services.BountyService, escapeService *services.EscapeService) {
	// Pool status and escape countdown are public reads.
	app.Get("/bounty/:id/status", func(c *fiber.Ctx) error {
		status, err := bountyService.PoolStatus(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bounty not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error fetching bounty"})
		}
		return c.JSON(status)
	})

	app.Get("/bounty/:id/escape-plan", func(c *fiber.Ctx) error {
		status, err := escapeService.Status(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bounty not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error fetching bounty"})
		}
		return c.JSON(status)
	})

	// Consuming an entry requires user context.
	secured := app.Group("/entry", middleware.UserContextMiddleware())

	secured.Post("/", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		wallet, _ := c.Locals("wallet_address").(string)

		var req struct {
			BountyID string `json:"bounty_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.BountyID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bounty_id is required"})
		}

		result, err := bountyService.RecordEntry(req.BountyID, userID, wallet)
		if err != nil {
			if errors.Is(err, services.ErrInsufficientEntries) {
				// Recoverable: the caller should prompt for payment.
				return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
					"error":            "insufficient entries",
					"payment_required": true,
				})
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bounty not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(result)
	})
}
