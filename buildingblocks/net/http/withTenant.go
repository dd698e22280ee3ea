package http

import (
	"context"
	"errors"
	"strings"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ClaimsLocalsKey is the fiber Locals key read by the default claims extractor
// when no token parser is configured.
const ClaimsLocalsKey = "claims"

const bearerPrefix = "bearer "

// ErrNoClaims is returned by a ClaimsExtractor when the request carries none.
var ErrNoClaims = errors.New("request carries no claims")

// ClaimsExtractor returns the authenticated claims of a request.
type ClaimsExtractor func(c *fiber.Ctx) (jwt.MapClaims, error)

// TenantOption configures WithTenant.
type TenantOption func(*tenantConfig)

type tenantConfig struct {
	extractor ClaimsExtractor
	logger    log.Logger
}

// WithClaimsExtractor sets how claims are obtained.
func WithClaimsExtractor(extractor ClaimsExtractor) TenantOption {
	return func(cfg *tenantConfig) {
		if extractor != nil {
			cfg.extractor = extractor
		}
	}
}

// WithJWT reads claims from the bearer token, verified with keyFunc.
// validMethods restricts the accepted signing algorithms.
func WithJWT(keyFunc jwt.Keyfunc, validMethods ...string) TenantOption {
	return WithClaimsExtractor(BearerClaims(keyFunc, validMethods...))
}

// WithTenantLogger sets the logger used for claim parsing diagnostics.
func WithTenantLogger(logger log.Logger) TenantOption {
	return func(cfg *tenantConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// LocalsClaims reads claims previously stored under ClaimsLocalsKey by an
// authentication middleware.
func LocalsClaims(c *fiber.Ctx) (jwt.MapClaims, error) {
	switch claims := c.Locals(ClaimsLocalsKey).(type) {
	case jwt.MapClaims:
		return claims, nil
	case map[string]any:
		return claims, nil
	default:
		return nil, ErrNoClaims
	}
}

// BearerClaims builds a ClaimsExtractor that parses the Authorization bearer
// token with golang-jwt.
func BearerClaims(keyFunc jwt.Keyfunc, validMethods ...string) ClaimsExtractor {
	return func(c *fiber.Ctx) (jwt.MapClaims, error) {
		header := c.Get(fiber.HeaderAuthorization)
		if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
			return nil, ErrNoClaims
		}

		var parserOpts []jwt.ParserOption
		if len(validMethods) > 0 {
			parserOpts = append(parserOpts, jwt.WithValidMethods(validMethods))
		}

		claims := jwt.MapClaims{}

		if _, err := jwt.ParseWithClaims(strings.TrimSpace(header[len(bearerPrefix):]), claims, keyFunc, parserOpts...); err != nil {
			return nil, err
		}

		return claims, nil
	}
}

// WithTenant resolves the tenant of the request (header TenantId, then query
// tenant_id, then claim TenantId) and switches the fiber user context to it.
// The previous tenant is restored once the rest of the chain returns.
// Claims that cannot be read count as absent; authentication is left to other
// middleware.
func WithTenant(opts ...TenantOption) fiber.Handler {
	cfg := &tenantConfig{
		extractor: LocalsClaims,
		logger:    log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		signals := tenant.Signals{
			Header:    c.Get(tenant.HeaderTenantID),
			Query:     c.Query(tenant.QueryTenantID),
			AppHeader: c.Get(tenant.HeaderAppID),
			AppQuery:  c.Query(tenant.QueryAppID),
		}

		if (signals.Header == "" && signals.Query == "") || (signals.AppHeader == "" && signals.AppQuery == "") {
			claims, err := cfg.extractor(c)
			if err != nil && !errors.Is(err, ErrNoClaims) {
				cfg.logger.Log(ctx, log.LevelDebug, "tenant claims unavailable", log.Err(err))
			}

			signals.Claim = claimString(claims, tenant.ClaimTenantID)
			signals.AppClaim = claimString(claims, tenant.ClaimAppID)
		}

		key := tenant.ResolveKey(signals)
		switched := tenant.SwitchToApp(ctx, key, tenant.ResolveAppID(signals))

		trace.SpanFromContext(switched).SetAttributes(attribute.String("tenant.id", key))
		c.SetUserContext(switched)

		defer restoreTenant(c, switched)

		return c.Next()
	}
}

func restoreTenant(c *fiber.Ctx, switched context.Context) {
	c.SetUserContext(tenant.Restore(switched))
}

func claimString(claims jwt.MapClaims, name string) string {
	if claims == nil {
		return ""
	}

	if v, ok := claims[name].(string); ok {
		return v
	}

	return ""
}
