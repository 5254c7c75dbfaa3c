// Package security provides input validation functionality.
package security

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationService provides centralized input validation functions.
// All validation methods return descriptive errors that are safe to show to
// callers.
type ValidationService struct {
	config *SecurityConfig
}

// NewValidationService creates a new validation service with security configuration.
func NewValidationService(config *SecurityConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

var (
	macPattern      = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
	siteUIDPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	pcUIDPattern    = regexp.MustCompile(`^[0-9a-f]{32}$`)
	clockPattern    = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	controlPattern  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// ValidateMAC validates a colon- or dash-separated MAC address.
func (v *ValidationService) ValidateMAC(mac string) error {
	if mac == "" {
		return fmt.Errorf("mac is required")
	}
	if !macPattern.MatchString(mac) {
		return fmt.Errorf("invalid MAC address format")
	}
	return nil
}

// ValidateSiteUID validates the immutable lowercase site slug.
func (v *ValidationService) ValidateSiteUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("site uid is required")
	}
	if len(uid) > 63 {
		return fmt.Errorf("site uid must be 63 characters or less")
	}
	if !siteUIDPattern.MatchString(uid) {
		return fmt.Errorf("site uid may only contain lowercase letters, digits and hyphens")
	}
	return nil
}

// ValidatePCUID validates a MAC-derived PC uid (32 hex characters).
func (v *ValidationService) ValidatePCUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("pc uid is required")
	}
	if !pcUIDPattern.MatchString(uid) {
		return fmt.Errorf("invalid pc uid format")
	}
	return nil
}

// ValidateEmail validates email address format according to RFC 5322.
func (v *ValidationService) ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 255 {
		return fmt.Errorf("email must be less than 255 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateGroupName validates group name length and format.
func (v *ValidationService) ValidateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("group name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("group name must be 100 characters or less")
	}
	return nil
}

// ValidateClockTime validates a 24-hour HH:MM wake plan time.
func (v *ValidationService) ValidateClockTime(value string) error {
	if value == "" {
		return fmt.Errorf("time is required")
	}
	if !clockPattern.MatchString(value) {
		return fmt.Errorf("invalid time format (expected: HH:MM)")
	}
	return nil
}

// ValidateDate validates an ISO 8601 calendar date, e.g. "2025-01-15".
func (v *ValidationService) ValidateDate(dateStr string) error {
	if dateStr == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		return fmt.Errorf("invalid date format (expected: YYYY-MM-DD)")
	}
	return nil
}

// ValidateDateRange validates that start is on or before end. End may be
// empty for open ranges.
func (v *ValidationService) ValidateDateRange(start, end string) error {
	if err := v.ValidateDate(start); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if end != "" {
		if err := v.ValidateDate(end); err != nil {
			return fmt.Errorf("end date: %w", err)
		}

		startTime, _ := time.Parse("2006-01-02", start)
		endTime, _ := time.Parse("2006-01-02", end)

		if endTime.Before(startTime) {
			return fmt.Errorf("start date must not be after end date")
		}
	}
	return nil
}

// ValidateEventLineCount rejects event batches over the configured cap.
func (v *ValidationService) ValidateEventLineCount(count int) error {
	if count == 0 {
		return fmt.Errorf("event batch is empty")
	}
	if count > v.config.MaxEventLines {
		return fmt.Errorf("event batch exceeds maximum of %d lines", v.config.MaxEventLines)
	}
	return nil
}

// ValidateConfigKeyCount rejects config pushes over the configured cap.
func (v *ValidationService) ValidateConfigKeyCount(count int) error {
	if count > v.config.MaxConfigKeys {
		return fmt.Errorf("config push exceeds maximum of %d keys", v.config.MaxConfigKeys)
	}
	return nil
}

// ValidateScriptArgCount rejects script runs with too many arguments.
func (v *ValidationService) ValidateScriptArgCount(count int) error {
	if count > v.config.MaxScriptArgs {
		return fmt.Errorf("script run exceeds maximum of %d arguments", v.config.MaxScriptArgs)
	}
	return nil
}

// SanitizeString removes control characters (except newline and tab) and
// trims surrounding whitespace.
func (v *ValidationService) SanitizeString(input string) string {
	input = controlPattern.ReplaceAllString(input, "")
	return strings.TrimSpace(input)
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
