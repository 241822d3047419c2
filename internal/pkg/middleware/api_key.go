package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tradewindhq/tradewind/app/models"
	"github.com/tradewindhq/tradewind/internal/pkg/database"
)

// APIUserKey is the Locals key holding the authenticated *models.User.
const APIUserKey = "api_user"

// RequireAPIKey authenticates internal API callers by API key, passed either
// as a Bearer token or in the X-API-Key header. Keys are looked up by hash;
// the raw key is never stored or logged.
func RequireAPIKey(c *fiber.Ctx) error {
	rawKey := extractAPIKey(c)
	if rawKey == "" {
		return unauthorized(c, "missing API key")
	}

	db := database.GetDB()
	var user models.User
	err := db.Where("api_key_hash = ? AND status = ?", models.HashAPIKey(rawKey), models.STATUS_ACTIVE).
		First(&user).Error
	if err != nil {
		return unauthorized(c, "invalid API key")
	}

	// Last-used bookkeeping must not fail the request.
	now := time.Now()
	_ = db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("api_key_last_used_at", &now).Error

	c.Locals(APIUserKey, &user)
	return c.Next()
}

func extractAPIKey(c *fiber.Ctx) string {
	if auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); auth != "" {
		if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(c.Get("X-API-Key"))
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": message,
	})
}
