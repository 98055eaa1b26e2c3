// Package security provides security tests for input validation.
package security

import (
	"strings"
	"testing"
)

// TestValidateUID tests uid validation against the email-like login format.
func TestValidateUID(t *testing.T) {
	v := NewValidationService(DefaultSecurityConfig())

	tests := []struct {
		name    string
		uid     string
		wantErr bool
	}{
		{name: "email address", uid: "alice@example.com", wantErr: false},
		{name: "plain login", uid: "alice.smith_01", wantErr: false},
		{name: "empty", uid: "", wantErr: true},
		{name: "whitespace", uid: "alice smith", wantErr: true},
		{name: "angle brackets", uid: "<script>@example.com", wantErr: true},
		{name: "too long", uid: strings.Repeat("a", 256) + "@example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateUID(tt.uid)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUID(%q) error = %v, wantErr %v", tt.uid, err, tt.wantErr)
			}
		})
	}
}

// TestValidatePassword tests the password complexity rules.
func TestValidatePassword(t *testing.T) {
	v := NewValidationService(DefaultSecurityConfig())

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "meets all rules", password: "Sup3rSecret", wantErr: false},
		{name: "empty", password: "", wantErr: true},
		{name: "too short", password: "Ab1", wantErr: true},
		{name: "no uppercase", password: "secret123", wantErr: true},
		{name: "no lowercase", password: "SECRET123", wantErr: true},
		{name: "no number", password: "SuperSecret", wantErr: true},
		{name: "too long", password: "Ab1" + strings.Repeat("x", 128), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

// TestSanitizeString tests control-character stripping and trimming.
func TestSanitizeString(t *testing.T) {
	v := NewValidationService(DefaultSecurityConfig())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "clean input", input: "hello world", want: "hello world"},
		{name: "surrounding whitespace", input: "  hello  ", want: "hello"},
		{name: "null byte", input: "hel\x00lo", want: "hello"},
		{name: "escape sequence", input: "hel\x1b[31mlo", want: "hel[31mlo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.SanitizeString(tt.input); got != tt.want {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidateCSVRowCount tests the roster upload size bounds.
func TestValidateCSVRowCount(t *testing.T) {
	config := DefaultSecurityConfig()
	v := NewValidationService(config)

	if err := v.ValidateCSVRowCount(1); err != nil {
		t.Errorf("One row should be valid: %v", err)
	}
	if err := v.ValidateCSVRowCount(config.MaxCSVRows); err != nil {
		t.Errorf("Maximum row count should be valid: %v", err)
	}
	if err := v.ValidateCSVRowCount(config.MaxCSVRows + 1); err == nil {
		t.Error("Row count above the maximum should be rejected")
	}
	if err := v.ValidateCSVRowCount(0); err == nil {
		t.Error("Empty upload should be rejected")
	}
}

// TestValidateLength tests rune-aware length bounds.
func TestValidateLength(t *testing.T) {
	v := NewValidationService(DefaultSecurityConfig())

	if err := v.ValidateLength("name", "abc", 1, 5); err != nil {
		t.Errorf("In-bounds value should be valid: %v", err)
	}
	if err := v.ValidateLength("name", "", 1, 5); err == nil {
		t.Error("Too-short value should be rejected")
	}
	if err := v.ValidateLength("name", "abcdef", 1, 5); err == nil {
		t.Error("Too-long value should be rejected")
	}
	// Multibyte characters count as one.
	if err := v.ValidateLength("name", "héllo", 1, 5); err != nil {
		t.Errorf("Rune count should be used, not byte count: %v", err)
	}
}
