package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/security"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(config *security.SecurityConfig) *SecurityMiddleware {
	return NewSecurityMiddleware(security.NewLogger(), config, nil)
}

func TestSecureHeaders(t *testing.T) {
	sm := newTestMiddleware(security.DefaultSecurityConfig())

	app := fiber.New()
	app.Use(sm.SecureHeaders())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'none'")
}

func TestPollRateLimit_PerIdentifier(t *testing.T) {
	config := security.DefaultSecurityConfig()
	config.RateLimitPoll = 2
	sm := newTestMiddleware(config)

	app := fiber.New()
	app.Post("/poll", sm.PollRateLimit(func(c *fiber.Ctx) string {
		return c.Get("X-PC-UID")
	}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	poll := func(uid string) int {
		req := httptest.NewRequest("POST", "/poll", nil)
		req.Header.Set("X-PC-UID", uid)
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// The bucket holds two tokens, the third poll is throttled.
	assert.Equal(t, fiber.StatusOK, poll("pc-a"))
	assert.Equal(t, fiber.StatusOK, poll("pc-a"))
	assert.Equal(t, fiber.StatusTooManyRequests, poll("pc-a"))

	// Other PCs have their own bucket.
	assert.Equal(t, fiber.StatusOK, poll("pc-b"))
}

func TestPollRateLimit_FallsBackToIP(t *testing.T) {
	config := security.DefaultSecurityConfig()
	config.RateLimitPoll = 1
	sm := newTestMiddleware(config)

	app := fiber.New()
	app.Post("/poll", sm.PollRateLimit(func(c *fiber.Ctx) string {
		return ""
	}), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp1, err := app.Test(httptest.NewRequest("POST", "/poll", nil))
	require.NoError(t, err)
	resp1.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp1.StatusCode)

	resp2, err := app.Test(httptest.NewRequest("POST", "/poll", nil))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, fiber.StatusTooManyRequests, resp2.StatusCode)
}

func TestInputValidation_RejectsInjection(t *testing.T) {
	sm := newTestMiddleware(security.DefaultSecurityConfig())

	app := fiber.New()
	app.Use(sm.InputValidation())
	app.Post("/groups", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	post := func(body string) int {
		req := httptest.NewRequest("POST", "/groups", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, post(`{"name": "Floor 1 kiosks"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(`{"name": "x' OR '1'='1"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(`{"name": "a UNION SELECT secret_hash FROM api_keys"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(`{"name": "<script>alert(1)</script>"}`))
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	sm := newTestMiddleware(security.DefaultSecurityConfig())

	app := fiber.New()
	app.Use(sm.RequestLogger())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusCreated).SendString("made")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}
