// handlers/entitlement_routes.go
package handlers

import (
	"bounty-entry-system/middleware"
	"bounty-entry-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEntitlementRoutes(app *fiber.App, entitlementService *services.EntitlementService, referralService *services.ReferralService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/entitlement", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		wallet, _ := c.Locals("wallet_address").(string)

		ent, err := entitlementService.Balance(userID, wallet)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch entitlement", "cause": err.Error()})
		}

		var referralCode string
		if code, err := referralService.GetOrCreateCode(userID); err == nil {
			referralCode = code.Code
		}

		return c.JSON(fiber.Map{
			"questions_remaining": ent.TotalRemaining(),
			"questions_used":      ent.QuestionsUsed,
			"is_paid":             ent.PaidRemaining > 0,
			"credit_balance":      ent.Credit,
			"referral_code":       referralCode,
			"by_source": fiber.Map{
				"free":     ent.FreeRemaining,
				"referral": ent.ReferralRemaining,
				"nft":      ent.NFTRemaining,
				"paid":     ent.PaidRemaining,
			},
		})
	})

	secured.Get("/referral/code", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		code, err := referralService.GetOrCreateCode(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to get referral code", "cause": err.Error()})
		}
		return c.JSON(fiber.Map{"referral_code": code.Code, "is_active": code.IsActive})
	})

	secured.Post("/referral/redeem", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		wallet, _ := c.Locals("wallet_address").(string)

		var req struct {
			Code  string `json:"code"`
			Email string `json:"email"`
		}
		if err := c.BodyParser(&req); err != nil || req.Code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
		}

		result, err := referralService.Redeem(userID, req.Code, wallet, req.Email)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	secured.Post("/entitlement/nft-bonus", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		wallet, _ := c.Locals("wallet_address").(string)
		if wallet == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "X-Wallet-Address header is required"})
		}

		granted, err := entitlementService.GrantNFTBonus(userID, wallet)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"granted": granted})
	})
}
