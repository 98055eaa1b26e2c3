// Package security provides centralized security configuration and utilities:
// input validation, rate limiting, and login brute-force protection.
package security

import (
	"time"
)

// SecurityConfig holds all security-related tunables in one place.
type SecurityConfig struct {
	// Password storage
	BcryptCost int // Cost factor for bcrypt hashing (recommended: 12)

	// Session management
	SessionTimeout    time.Duration // Session inactivity timeout
	SessionCookieName string        // Name of the session cookie
	SessionSecure     bool          // Require HTTPS for session cookies
	SessionHTTPOnly   bool          // Prevent JavaScript access to session cookies
	SessionSameSite   string        // CSRF protection via SameSite attribute

	// Brute force protection
	LoginRateLimit          int           // Max login attempts per minute per IP
	AccountLockoutThreshold int           // Failed attempts before account lockout
	AccountLockoutDuration  time.Duration // How long the account stays locked

	// Input validation
	MaxUIDLength  int // Maximum characters in a uid
	MaxCSVRows    int // Maximum rows in a group roster upload
	MaxUploadSize int // Maximum file upload size in bytes
	QueryTimeout  time.Duration

	// Rate limiting for the bulk endpoints
	RateLimitCSVImport int // Roster uploads per hour per instructor
	RateLimitBulkJobs  int // Bulk job launches per hour per instructor
}

// DefaultSecurityConfig returns security configuration with recommended
// defaults, following OWASP ASVS 4.0 guidance.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		BcryptCost: 12,

		SessionTimeout:    8 * time.Hour,
		SessionCookieName: "groupwork_session",
		SessionSecure:     true,
		SessionHTTPOnly:   true,
		SessionSameSite:   "Strict",

		LoginRateLimit:          5,
		AccountLockoutThreshold: 10,
		AccountLockoutDuration:  30 * time.Minute,

		MaxUIDLength:  255,
		MaxCSVRows:    10000,
		MaxUploadSize: 10 * 1024 * 1024, // 10MB
		QueryTimeout:  30 * time.Second,

		RateLimitCSVImport: 5,
		RateLimitBulkJobs:  10,
	}
}
