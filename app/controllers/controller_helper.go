package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// errorJSON writes the API error envelope.
func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// accountParam reads the :account route parameter. Only positive ids are valid.
func accountParam(c *fiber.Ctx) (uint, bool) {
	id, err := c.ParamsInt("account")
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}
