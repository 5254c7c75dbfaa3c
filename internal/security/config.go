// Package security provides centralized security configuration and utilities.
package security

import (
	"time"
)

// SecurityConfig holds all security-related tunables for the admin backend.
type SecurityConfig struct {
	// Secure credential storage
	BcryptCost int // Cost factor for bcrypt API-key hashing (recommended: 12)

	// Brute force protection on the authenticated surfaces
	AuthRateLimit    int           // Max failed auth attempts per minute per IP
	LockoutThreshold int           // Failed attempts before an IP is locked out
	LockoutDuration  time.Duration // How long the lockout lasts

	// Input validation limits
	MaxEventLines     int // Maximum CSV lines in one push_security_events call
	MaxEventLineBytes int // Maximum bytes in a single event line
	MaxConfigKeys     int // Maximum keys in one push_config_keys call
	MaxScriptArgs     int // Maximum positional arguments for a script run
	QueryTimeout      time.Duration

	// Rate limiting (requests per window)
	RateLimitPoll     int // get_instructions per PC per minute
	RateLimitRegister int // register_new_computer_v2 per IP per hour
	RateLimitCitizen  int // citizen login attempts per PC per minute

	// Security monitoring
	MonitoringInterval     time.Duration // Counter reset cadence
	AlertThresholdFailures int           // Failed auth attempts before alerting
	AlertThresholdEvents   int           // Security events from one PC before alerting
}

// DefaultSecurityConfig returns security configuration with recommended defaults.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		BcryptCost: 12,

		AuthRateLimit:    10,
		LockoutThreshold: 20,
		LockoutDuration:  30 * time.Minute,

		MaxEventLines:     500,
		MaxEventLineBytes: 16 * 1024,
		MaxConfigKeys:     200,
		MaxScriptArgs:     50,
		QueryTimeout:      30 * time.Second,

		RateLimitPoll:     12, // one poll every 5 seconds sustained
		RateLimitRegister: 30,
		RateLimitCitizen:  10,

		MonitoringInterval:     5 * time.Minute,
		AlertThresholdFailures: 5,
		AlertThresholdEvents:   1000,
	}
}
