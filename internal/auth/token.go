package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vakt.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenConfig is the token manager's startup configuration. The signing
// algorithm is fixed per TokenManager instance.
type TokenConfig struct {
	Secret    string // HMAC secret, required for HS256
	Algorithm string // "HS256" (default) or "RS256"
	Issuer    string
	Audience  string

	// PEM-encoded keys, required for RS256.
	PrivateKeyPEM string
	PublicKeyPEM  string

	// Duration literals, e.g. "15m", "7d", "1ms". Defaults: 15m / 7d.
	AccessTokenTTL  string
	RefreshTokenTTL string
}

// TokenClaims is the wire shape of both token types. The Type discriminator
// keeps access and refresh tokens from ever being accepted in each other's
// place.
type TokenClaims struct {
	Name        string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Tenant      *Tenant  `json:"tenant,omitempty"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies token pairs. Immutable after construction,
// safe for unlimited concurrent use.
type TokenManager struct {
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenManager behavior.
type TokenOption func(*TokenManager)

// WithTimeSource overrides the token manager's clock (useful for tests).
func WithTimeSource(fn func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewTokenManager validates the configuration and returns a ready manager.
func NewTokenManager(cfg TokenConfig, opts ...TokenOption) (*TokenManager, error) {
	m := &TokenManager{
		issuer:     strings.TrimSpace(cfg.Issuer),
		audience:   strings.TrimSpace(cfg.Audience),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}

	if cfg.AccessTokenTTL != "" {
		ttl, err := ParseTTL(cfg.AccessTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("auth: access ttl: %w", err)
		}
		m.accessTTL = ttl
	}
	if cfg.RefreshTokenTTL != "" {
		ttl, err := ParseTTL(cfg.RefreshTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("auth: refresh ttl: %w", err)
		}
		m.refreshTTL = ttl
	}

	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = "HS256"
	}
	switch alg {
	case "HS256":
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("auth: secret is required for HS256")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = []byte(cfg.Secret)
		m.verifyKey = []byte(cfg.Secret)
	case "RS256":
		priv, pub, err := parseRSAKeys(cfg.PrivateKeyPEM, cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		m.method = jwt.SigningMethodRS256
		m.signKey = priv
		m.verifyKey = pub
	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %s", alg)
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// Issue mints an access/refresh pair for the principal. The access token
// carries the full claim set; the refresh token carries only the subject and
// the type discriminator. No storage is touched.
func (m *TokenManager) Issue(principal Principal) (TokenPair, error) {
	now := m.now().UTC()

	access := TokenClaims{
		Name:             principal.Name,
		Email:            principal.Email,
		Roles:            principal.Roles,
		Permissions:      principal.Permissions,
		Tenant:           principal.Tenant,
		TokenType:        tokenTypeAccess,
		RegisteredClaims: m.registered(principal.ID, now, m.accessTTL),
	}
	accessToken, err := jwt.NewWithClaims(m.method, access).SignedString(m.signKey)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign access token: %w", err)
	}

	refresh := TokenClaims{
		TokenType:        tokenTypeRefresh,
		RegisteredClaims: m.registered(principal.ID, now, m.refreshTTL),
	}
	refreshToken, err := jwt.NewWithClaims(m.method, refresh).SignedString(m.signKey)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(m.accessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

func (m *TokenManager) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        ids.New(),
	}
	if m.issuer != "" {
		rc.Issuer = m.issuer
	}
	if m.audience != "" {
		rc.Audience = jwt.ClaimStrings{m.audience}
	}
	return rc
}

// Verify validates signature and expiry of an access token and reconstructs
// the Principal. Any signature mismatch, malformed structure, expiry or wrong
// token type yields ErrInvalidToken with no further detail.
func (m *TokenManager) Verify(tokenString string) (Principal, error) {
	claims, err := m.parse(tokenString)
	if err != nil || claims.TokenType != tokenTypeAccess {
		return Principal{}, ErrInvalidToken
	}
	return principalFromClaims(claims), nil
}

// VerifyRefresh validates a refresh token and returns a partial Principal
// carrying the subject only. Passing an access token here fails.
func (m *TokenManager) VerifyRefresh(tokenString string) (Principal, error) {
	claims, err := m.parse(tokenString)
	if err != nil || claims.TokenType != tokenTypeRefresh {
		return Principal{}, ErrInvalidRefreshToken
	}
	return Principal{
		ID:          claims.Subject,
		Roles:       []string{},
		Permissions: []string{},
	}, nil
}

// DecodeUnverified returns the raw claims without checking signature or
// expiry. Diagnostics only, never an authorization input. Returns nil for
// structurally malformed tokens.
func (m *TokenManager) DecodeUnverified(tokenString string) map[string]any {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

func (m *TokenManager) parse(tokenString string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(m.now)}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, ErrInvalidToken
		}
		return m.verifyKey, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// principalFromClaims never returns nil role/permission slices: absent claims
// become empty sets.
func principalFromClaims(claims *TokenClaims) Principal {
	p := Principal{
		ID:          claims.Subject,
		Name:        claims.Name,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		Tenant:      claims.Tenant,
	}
	if p.Roles == nil {
		p.Roles = []string{}
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	return p
}

func parseRSAKeys(privatePEM, publicPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	publicPEM = strings.TrimSpace(publicPEM)
	if privatePEM == "" || publicPEM == "" {
		return nil, nil, errors.New("auth: both private and public keys are required for RS256")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return priv, pub, nil
}
