package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
)

// ProfileOverlayMiddleware gives every request its own profile cache overlay.
// Handlers must pass c.UserContext() down for it to take effect.
func ProfileOverlayMiddleware(c *fiber.Ctx) error {
	c.SetUserContext(profilecache.WithOverlay(c.UserContext(), profilecache.NewOverlay()))
	return c.Next()
}
