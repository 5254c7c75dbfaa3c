package middleware

import (
	"strings"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/gofiber/fiber/v2"
)

// SecurityMiddleware bundles the cross-cutting security concerns of the HTTP
// surface: response headers, structured request logging, rate limiting and
// lockout of failing callers.
type SecurityMiddleware struct {
	logger      *security.Logger
	config      *security.SecurityConfig
	pollLimiter *security.RateLimiter
	lockout     *security.Lockout
	validation  *security.ValidationService
	monitor     *security.SecurityMonitor
}

// NewSecurityMiddleware creates a new security middleware instance.
func NewSecurityMiddleware(logger *security.Logger, config *security.SecurityConfig, alerter security.Alerter) *SecurityMiddleware {
	if alerter == nil {
		alerter = &security.LogAlerter{Logger: logger}
	}
	return &SecurityMiddleware{
		logger:      logger,
		config:      config,
		pollLimiter: security.NewRateLimiter(config.RateLimitPoll, time.Minute/time.Duration(config.RateLimitPoll)),
		lockout:     security.NewLockout(config.LockoutThreshold, config.LockoutDuration),
		validation:  security.NewValidationService(config),
		monitor:     security.NewSecurityMonitor(logger, config, alerter),
	}
}

// Validation exposes the shared ValidationService to the handlers.
func (sm *SecurityMiddleware) Validation() *security.ValidationService {
	return sm.validation
}

// Monitor exposes the shared SecurityMonitor to the handlers.
func (sm *SecurityMiddleware) Monitor() *security.SecurityMonitor {
	return sm.monitor
}

// SecureHeaders adds the standard security headers. The surface is pure
// JSON, so the policy can be strict.
func (sm *SecurityMiddleware) SecureHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		return c.Next()
	}
}

// RequestLogger logs every request as one structured line with latency, and
// opportunistically triggers the monitor's counter reset.
func (sm *SecurityMiddleware) RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		sm.logger.HTTPRequest(
			c.Method(),
			c.Path(),
			c.Response().StatusCode(),
			time.Since(start).Milliseconds(),
			c.IP(),
			c.Get("User-Agent"),
		)
		sm.monitor.ResetCounters()
		return err
	}
}

// PollRateLimit throttles the PC-facing endpoints per PC uid (falling back
// to the caller IP when no uid is present in the body yet, e.g. during
// registration).
func (sm *SecurityMiddleware) PollRateLimit(identify func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := identify(c)
		if id == "" {
			id = c.IP()
		}
		if !sm.pollLimiter.Allow(id) {
			sm.logger.SecurityEvent(security.EventRateLimitExceeded, nil, "", c.IP(), c.Get("User-Agent"),
				map[string]interface{}{"identifier": id, "path": c.Path()})
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

// InputValidation rejects request bodies carrying obvious injection probes.
// Applied to the admin surface only; PC-reported payloads (logs, event
// summaries) legitimately contain arbitrary text.
func (sm *SecurityMiddleware) InputValidation() fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := strings.ToLower(string(c.Body()))
		for _, pattern := range injectionPatterns {
			if strings.Contains(body, pattern) {
				sm.logger.SecurityEvent(security.EventUnauthorizedAccess, nil, "", c.IP(), c.Get("User-Agent"),
					map[string]interface{}{"path": c.Path(), "pattern": pattern})
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "invalid input detected",
				})
			}
		}
		return c.Next()
	}
}

var injectionPatterns = []string{
	"' or '1'='1",
	"' or 1=1",
	"'; drop table",
	"'; delete from",
	"union select",
	"<script",
	"javascript:",
}
