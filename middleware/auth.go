// middleware/auth.go
package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts user identity set by the Gateway. Routes
// under it require X-User-ID; the wallet header is optional and attached
// when present.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		walletAddress := c.Get("X-Wallet-Address")

		if userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		c.Locals("user_id", userID)
		c.Locals("wallet_address", walletAddress)

		return c.Next()
	}
}
