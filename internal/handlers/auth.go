// Package handlers implements HTTP request handlers for the groupwork API.
// This file handles authentication: login, logout, and session lifecycle.
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"go.uber.org/zap"

	"github.com/avissapr/groupwork/internal/middleware"
	"github.com/avissapr/groupwork/internal/services"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	store       *session.Store
	authService *services.AuthService
	secmw       *middleware.SecurityMiddleware
	logger      *zap.Logger
}

// NewAuthHandler creates a new instance of AuthHandler.
func NewAuthHandler(store *session.Store, secmw *middleware.SecurityMiddleware, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		store:       store,
		authService: services.NewAuthService(),
		secmw:       secmw,
		logger:      logger,
	}
}

type loginRequest struct {
	UID      string `json:"uid" form:"uid"`
	Password string `json:"password" form:"password"`
}

// Login authenticates a uid/password pair and creates a session.
//
// Side Effects:
//   - Creates a session with user_id and uid on success
//   - Records the attempt against the brute-force counters
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UID == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "uid and password are required",
		})
	}

	if err := h.secmw.LoginRateLimit(req.UID, c.IP()); err != nil {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	user, err := h.authService.Authenticate(c.Context(), req.UID, req.Password)
	if err != nil {
		h.secmw.RecordLoginFailure(req.UID, c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid uid or password",
		})
	}

	sess, err := h.store.Get(c)
	if err != nil {
		h.logger.Error("failed to get session", zap.Error(err))
		return internalError(c)
	}
	sess.Set("user_id", user.ID)
	sess.Set("uid", user.UID)
	if err := sess.Save(); err != nil {
		h.logger.Error("failed to save session", zap.Error(err))
		return internalError(c)
	}

	h.secmw.RecordLoginSuccess(user.UID, c.IP(), user.ID)

	return c.JSON(fiber.Map{
		"user_id": user.ID,
		"uid":     user.UID,
		"name":    user.Name,
	})
}

// Logout destroys the session. Always returns 204, authenticated or not.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}
