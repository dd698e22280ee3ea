package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	inside string
	app    string
	after  string
}

func newTenantApp(t *testing.T, seen *observed, preset jwt.MapClaims, opts ...TenantOption) *fiber.App {
	t.Helper()

	app := fiber.New()

	app.Use(func(c *fiber.Ctx) error {
		if preset != nil {
			c.Locals(ClaimsLocalsKey, preset)
		}

		err := c.Next()
		seen.after = tenant.Current(c.UserContext())

		return err
	})

	app.Use(WithTenant(opts...))

	app.Get("/orders", func(c *fiber.Ctx) error {
		seen.inside = tenant.Current(c.UserContext())
		seen.app = tenant.AppID(c.UserContext())

		return c.SendStatus(http.StatusNoContent)
	})

	return app
}

func TestWithTenant_SignalPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		header string
		claims jwt.MapClaims
		want   string
	}{
		{name: "no signal", target: "/orders", want: tenant.MainKey},
		{name: "claim", target: "/orders", claims: jwt.MapClaims{"TenantId": "claimed"}, want: "claimed"},
		{name: "query over claim", target: "/orders?tenant_id=queried", claims: jwt.MapClaims{"TenantId": "claimed"}, want: "queried"},
		{name: "header over query", target: "/orders?tenant_id=queried", header: "headed", want: "headed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			seen := &observed{}
			app := newTenantApp(t, seen, tt.claims)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(tenant.HeaderTenantID, tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)

			assert.Equal(t, tt.want, seen.inside)
			assert.Equal(t, tenant.MainKey, seen.after)
		})
	}
}

func TestWithTenant_AppID(t *testing.T) {
	t.Parallel()

	seen := &observed{}
	app := newTenantApp(t, seen, jwt.MapClaims{"AppId": "from-claim"})

	req := httptest.NewRequest(http.MethodGet, "/orders?app_id=from-query", nil)
	req.Header.Set(tenant.HeaderTenantID, "acme")

	_, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, "acme", seen.inside)
	assert.Equal(t, "from-query", seen.app)
}

func TestWithTenant_BearerToken(t *testing.T) {
	t.Parallel()

	secret := []byte("tenant-secret")
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"TenantId": "tokened"}).SignedString(secret)
	require.NoError(t, err)

	seen := &observed{}
	app := newTenantApp(t, seen, nil, WithJWT(keyFunc, jwt.SigningMethodHS256.Alg()))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)

	_, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "tokened", seen.inside)
}

func TestWithTenant_InvalidTokenFallsBackToMain(t *testing.T) {
	t.Parallel()

	keyFunc := func(*jwt.Token) (any, error) { return []byte("right"), nil }

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"TenantId": "forged"}).SignedString([]byte("wrong"))
	require.NoError(t, err)

	seen := &observed{}
	app := newTenantApp(t, seen, nil, WithJWT(keyFunc))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)

	_, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, tenant.MainKey, seen.inside)
}

func TestLocalsClaims_Missing(t *testing.T) {
	t.Parallel()

	app := fiber.New()

	var extractErr error

	app.Get("/", func(c *fiber.Ctx) error {
		_, extractErr = LocalsClaims(c)
		return nil
	})

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.ErrorIs(t, extractErr, ErrNoClaims)
}
