package tenant

import "strings"

// Inbound signal names.
const (
	HeaderTenantID = "TenantId"
	QueryTenantID  = "tenant_id"
	ClaimTenantID  = "TenantId"
	HeaderAppID    = "AppId"
	QueryAppID     = "app_id"
	ClaimAppID     = "AppId"
)

// Signals carries the raw tenant and application hints of one request.
type Signals struct {
	Header    string
	Query     string
	Claim     string
	AppHeader string
	AppQuery  string
	AppClaim  string
}

// ResolveKey picks the tenant key by precedence header, query, claim.
// With no signal present it returns MainKey.
func ResolveKey(s Signals) string {
	return normalizeKey(firstNonBlank(s.Header, s.Query, s.Claim))
}

// ResolveAppID picks the application id with the same precedence as
// ResolveKey. It returns "" when absent.
func ResolveAppID(s Signals) string {
	return firstNonBlank(s.AppHeader, s.AppQuery, s.AppClaim)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}

	return ""
}
