package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ProfileSync/internal/pkg/profilecache"
)

func newTestApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	route := append(handlers, func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/", route...)
	return app
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	app := newTestApp(APIKeyAuthMiddleware("secret"))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "missing", want: fiber.StatusUnauthorized},
		{name: "wrong key", header: "X-API-Key", value: "nope", want: fiber.StatusUnauthorized},
		{name: "x-api-key", header: "X-API-Key", value: "secret", want: fiber.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer secret", want: fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	app := newTestApp(APIKeyAuthMiddleware(""))

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProfileOverlayMiddleware(t *testing.T) {
	var seen *profilecache.Overlay
	app := newTestApp(ProfileOverlayMiddleware, func(c *fiber.Ctx) error {
		seen = profilecache.OverlayFrom(c.UserContext())
		return c.Next()
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotNil(t, seen)
}
