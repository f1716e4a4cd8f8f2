package auth

import (
	"context"
	"strings"
	"time"
)

// TenantKind is the closed set of tenant categories.
type TenantKind string

const (
	TenantMunicipality TenantKind = "municipality"
	TenantCounty       TenantKind = "county"
	TenantState        TenantKind = "state"
	TenantPrivate      TenantKind = "private"
)

// Valid reports whether the kind is one of the known tenant categories.
func (k TenantKind) Valid() bool {
	switch k {
	case TenantMunicipality, TenantCounty, TenantState, TenantPrivate:
		return true
	}
	return false
}

// Tenant scopes a principal to an organisational unit.
type Tenant struct {
	ID               string     `json:"id"`
	Kind             TenantKind `json:"kind"`
	Name             string     `json:"name"`
	MunicipalityCode string     `json:"municipalityCode,omitempty"`
}

// Consent records the data-processing consent state attached to a principal.
type Consent struct {
	Given     bool      `json:"given"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Principal is an authenticated identity. Provider adapters create it, the
// permission resolver fills in Permissions, and it is never mutated after
// token issuance; a refresh produces a new Principal.
type Principal struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Tenant      *Tenant  `json:"tenant,omitempty"`
	Consent     *Consent `json:"consent,omitempty"`
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair carries freshly issued credentials.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// ProviderKind identifies an identity-provider integration. The set is
// closed: the orchestrator rejects kinds outside this list so a typo in
// configuration surfaces as ErrProviderNotFound instead of a silent miss.
type ProviderKind string

const (
	ProviderIDPorten  ProviderKind = "idporten"
	ProviderBankID    ProviderKind = "bankid"
	ProviderVipps     ProviderKind = "vipps"
	ProviderFeide     ProviderKind = "feide"
	ProviderMinID     ProviderKind = "minid"
	ProviderGoogle    ProviderKind = "google"
	ProviderFacebook  ProviderKind = "facebook"
	ProviderEmail     ProviderKind = "email"
	ProviderMagicLink ProviderKind = "magic-link"
	ProviderSMSOTP    ProviderKind = "sms-otp"
	ProviderSupabase  ProviderKind = "supabase"
	ProviderDev       ProviderKind = "dev"
)

var providerKinds = map[ProviderKind]struct{}{
	ProviderIDPorten:  {},
	ProviderBankID:    {},
	ProviderVipps:     {},
	ProviderFeide:     {},
	ProviderMinID:     {},
	ProviderGoogle:    {},
	ProviderFacebook:  {},
	ProviderEmail:     {},
	ProviderMagicLink: {},
	ProviderSMSOTP:    {},
	ProviderSupabase:  {},
	ProviderDev:       {},
}

// ParseProviderKind normalizes and validates a provider name.
func ParseProviderKind(name string) (ProviderKind, error) {
	kind := ProviderKind(strings.TrimSpace(strings.ToLower(name)))
	if _, ok := providerKinds[kind]; !ok {
		return "", ErrProviderNotFound
	}
	return kind, nil
}

// Provider is the contract every identity-provider adapter implements.
// Adapters are stateless: they resolve an external login into a normalized
// Principal and are otherwise opaque to the core.
type Provider interface {
	Name() string
	LoginURL(ctx context.Context, state string) (string, error)
	HandleCallback(ctx context.Context, code, state string) (Principal, error)
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

// RefreshingProvider is implemented by adapters that can refresh their own
// upstream sessions. Optional; the core refreshes its own tokens regardless.
type RefreshingProvider interface {
	Provider
	RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
}
