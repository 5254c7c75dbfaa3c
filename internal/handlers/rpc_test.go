package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "not found",
			err:    models.NotFound("pc", "abc123"),
			status: fiber.StatusNotFound,
			body:   "abc123",
		},
		{
			name:   "validation",
			err:    models.Invalid("mac", "not a MAC address"),
			status: fiber.StatusBadRequest,
			body:   "mac",
		},
		{
			name:   "domain state",
			err:    &models.DomainStateError{Op: "restart job", Current: "DONE"},
			status: fiber.StatusConflict,
			body:   "DONE",
		},
		{
			name:   "transient external",
			err:    &models.TransientExternalError{Op: "credential validation", Err: errors.New("timeout")},
			status: fiber.StatusBadGateway,
			body:   "credential validation",
		},
		{
			name:   "wrapped not found",
			err:    fmt.Errorf("loading pc: %w", models.NotFound("pc", "abc123")),
			status: fiber.StatusNotFound,
			body:   "abc123",
		},
		{
			name:   "unknown error stays opaque",
			err:    errors.New("pq: connection refused"),
			status: fiber.StatusInternalServerError,
			body:   "internal error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/test", func(c *fiber.Ctx) error {
				return writeError(c, tc.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), tc.body)
		})
	}
}
