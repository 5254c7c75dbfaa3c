// Package middleware provides the HTTP middleware for the admin backend:
// API-key authentication for the site-scoped query surface and the shared
// security middleware (headers, request logging, rate limiting).
package middleware

import (
	"strings"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

// SiteIDLocal is the fiber.Ctx Locals key carrying the authenticated key's
// site id.
const SiteIDLocal = "api_site_id"

// APIKeyAuth authenticates the external admin query surface. Callers present
// "Authorization: Bearer <key_id>:<secret>"; the key binds the request to
// exactly one Site, stored in Locals for the handlers. Failures are uniform
// 401s regardless of which half was wrong.
func APIKeyAuth(keys *services.APIKeyService, sm *SecurityMiddleware) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sm.lockout.IsLocked(c.IP()) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many failed attempts, try again later",
			})
		}

		keyID, secret, ok := bearerKey(c.Get("Authorization"))
		if !ok {
			return sm.authFailed(c)
		}

		key, err := keys.Verify(c.Context(), keyID, secret)
		if err != nil {
			return fiber.ErrInternalServerError
		}
		if key == nil {
			return sm.authFailed(c)
		}

		sm.lockout.ResetAttempts(c.IP())
		c.Locals(SiteIDLocal, key.SiteID)
		return c.Next()
	}
}

// bearerKey splits an "Authorization: Bearer key_id:secret" header.
func bearerKey(header string) (keyID, secret string, ok bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", "", false
	}
	keyID, secret, found = strings.Cut(token, ":")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

// authFailed records the failure for lockout and monitoring and returns the
// uniform 401.
func (sm *SecurityMiddleware) authFailed(c *fiber.Ctx) error {
	sm.lockout.RecordFailure(c.IP())
	sm.monitor.MonitorAuthFailure(c.IP())
	sm.logger.SecurityEvent(security.EventAPIKeyDenied, nil, "", c.IP(), c.Get("User-Agent"),
		map[string]interface{}{"path": c.Path()})

	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "invalid api key",
	})
}
