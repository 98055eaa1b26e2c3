// Package security provides input validation functionality.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var uidPattern = regexp.MustCompile(`^[a-zA-Z0-9._@-]+$`)

// ValidationService provides centralized input validation functions.
// All validation methods return descriptive errors that are safe to show to users.
type ValidationService struct {
	config *SecurityConfig
}

// NewValidationService creates a new validation service with security configuration.
func NewValidationService(config *SecurityConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

// ValidateUID validates a user identifier. UIDs are email-like login names:
// letters, digits, and the punctuation that appears in email addresses.
func (v *ValidationService) ValidateUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("uid is required")
	}

	if len(uid) > v.config.MaxUIDLength {
		return fmt.Errorf("uid must be %d characters or less", v.config.MaxUIDLength)
	}

	if !uidPattern.MatchString(uid) {
		return fmt.Errorf("uid contains invalid characters")
	}

	return nil
}

// ValidatePassword validates password meets minimum security requirements.
// Requirements: At least 8 characters, contains uppercase, lowercase, and number.
func (v *ValidationService) ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	if len(password) > 128 {
		return fmt.Errorf("password must be less than 128 characters")
	}

	hasUpper := regexp.MustCompile(`[A-Z]`).MatchString(password)
	hasLower := regexp.MustCompile(`[a-z]`).MatchString(password)
	hasNumber := regexp.MustCompile(`[0-9]`).MatchString(password)

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}

	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}

	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

// SanitizeString removes potentially dangerous characters from string input.
// Removes control characters and normalizes whitespace.
func (v *ValidationService) SanitizeString(input string) string {
	// Remove control characters (except newline and tab)
	input = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`).ReplaceAllString(input, "")

	return strings.TrimSpace(input)
}

// ValidateCSVRowCount validates that a roster upload doesn't exceed the
// maximum row count.
func (v *ValidationService) ValidateCSVRowCount(rowCount int) error {
	if rowCount > v.config.MaxCSVRows {
		return fmt.Errorf("CSV file exceeds maximum of %d rows", v.config.MaxCSVRows)
	}

	if rowCount == 0 {
		return fmt.Errorf("CSV file is empty")
	}

	return nil
}

// ValidateRequired checks if a required field is present and non-empty.
func (v *ValidationService) ValidateRequired(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	return nil
}

// ValidateLength validates string length is within bounds.
func (v *ValidationService) ValidateLength(fieldName string, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}

	if length > max {
		return fmt.Errorf("%s must be %d characters or less", fieldName, max)
	}

	return nil
}
