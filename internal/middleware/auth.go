// Package middleware provides HTTP middleware for the groupwork API.
// This file implements authentication middleware backed by the session store.
package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// AuthRequired ensures the request carries an authenticated session.
// Unauthenticated requests get a 401 JSON response.
//
// Context Locals Set:
//   - user_id: The authenticated user's id (int64)
//   - uid: The user's login identifier (string)
//
// Example:
//
//	api := app.Group("/api", middleware.AuthRequired(store))
func AuthRequired(store *session.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return unauthorized(c)
		}

		userID, ok := sess.Get("user_id").(int64)
		if !ok {
			return unauthorized(c)
		}

		c.Locals("user_id", userID)
		c.Locals("uid", sess.Get("uid"))

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Authentication required",
	})
}

// UserID returns the authenticated user's id from the request context.
// Only valid below AuthRequired.
func UserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals("user_id").(int64)
	return id
}

// UID returns the authenticated user's login identifier from the request
// context. Only valid below AuthRequired.
func UID(c *fiber.Ctx) string {
	uid, _ := c.Locals("uid").(string)
	return uid
}
