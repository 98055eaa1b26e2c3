// Package services provides the business logic layer for the groupwork application.
// This file implements authentication: credential verification against the
// stored bcrypt hash, and password hashing for account provisioning.
package services

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
)

// AuthService handles authentication and password management.
//
// Security Notes:
//   - bcrypt comparison is constant-time, preventing timing attacks
//   - Plaintext passwords are never stored or logged
//   - "Unknown uid" and "wrong password" surface as indistinguishable
//     failures so login attempts cannot probe which accounts exist
type AuthService struct {
	userRepo *repository.UserRepository
}

// NewAuthService creates and returns a new AuthService instance.
func NewAuthService() *AuthService {
	return &AuthService{
		userRepo: repository.NewUserRepository(),
	}
}

// Authenticate verifies a uid/password pair and returns the user record on
// success.
//
// Returns:
//   - *models.User: The authenticated user
//   - error: bcrypt.ErrMismatchedHashAndPassword for an unknown uid or a
//     wrong password; database errors pass through unchanged
func (s *AuthService) Authenticate(ctx context.Context, uid, password string) (*models.User, error) {
	user, err := s.userRepo.FindByUID(ctx, database.DB, uid)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Same error as a wrong password, so callers cannot tell the cases apart.
		return nil, bcrypt.ErrMismatchedHashAndPassword
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}

	return user, nil
}

// HashPassword generates a bcrypt hash of the provided plaintext password.
// Used when provisioning accounts. The output embeds the salt and cost and
// is safe to store directly.
func (s *AuthService) HashPassword(password string) (string, error) {
	// Cost 12 gives 2^12 rounds, a reasonable interactive-login budget.
	const bcryptCost = 12
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(hash), err
}
