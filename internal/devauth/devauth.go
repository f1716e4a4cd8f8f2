// Package devauth is a development-only identity provider backed by a static
// user list. It exists so the full login flow, including permission
// resolution and audit, can run locally without an external identity
// provider. Never enable it in production.
package devauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vakt.org/internal/auth"
)

// ErrUnknownUser is returned when the callback code names no configured user
// or the supplied password does not match.
var ErrUnknownUser = errors.New("devauth: unknown development user")

// User is a statically configured development identity. PasswordHash is
// optional: without it the user id alone completes a login.
type User struct {
	ID           string
	Name         string
	Email        string
	Roles        []string
	PasswordHash string
}

// Config holds the static user list.
type Config struct {
	Users []User
}

// Provider implements auth.Provider over the static user list. The callback
// code is "id" or "id:password" depending on whether the user carries a
// password hash.
type Provider struct {
	users map[string]User

	mu       sync.RWMutex
	sessions map[string]auth.Principal
}

var _ auth.Provider = (*Provider)(nil)

// New builds the provider. Duplicate user ids are a configuration error.
func New(cfg Config) (*Provider, error) {
	p := &Provider{
		users:    make(map[string]User, len(cfg.Users)),
		sessions: make(map[string]auth.Principal),
	}
	for _, u := range cfg.Users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return nil, errors.New("devauth: user with empty id")
		}
		if _, exists := p.users[id]; exists {
			return nil, fmt.Errorf("devauth: duplicate user %s", id)
		}
		u.ID = id
		p.users[id] = u
	}
	return p, nil
}

// Name implements auth.Provider.
func (p *Provider) Name() string { return "dev" }

// LoginURL returns a local login path carrying the state.
func (p *Provider) LoginURL(_ context.Context, state string) (string, error) {
	q := url.Values{"provider": {"dev"}, "state": {state}}
	return "/auth/dev/login?" + q.Encode(), nil
}

// HandleCallback resolves the code into a Principal. Every development user
// is placed in the same fictional municipality with consent pre-given, so
// contextual permission rules and compliance paths are exercisable locally.
func (p *Provider) HandleCallback(_ context.Context, code, _ string) (auth.Principal, error) {
	id := code
	password := ""
	if i := strings.IndexByte(code, ':'); i >= 0 {
		id, password = code[:i], code[i+1:]
	}

	user, ok := p.users[id]
	if !ok {
		return auth.Principal{}, ErrUnknownUser
	}
	if user.PasswordHash != "" {
		if err := VerifyPassword(user.PasswordHash, password); err != nil {
			return auth.Principal{}, ErrUnknownUser
		}
	}

	principal := auth.Principal{
		ID:          "dev:" + user.ID,
		Name:        user.Name,
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: []string{},
		Tenant: &auth.Tenant{
			ID:               "dev",
			Kind:             auth.TenantMunicipality,
			Name:             "Development Municipality",
			MunicipalityCode: "0301",
		},
		Consent: &auth.Consent{
			Given:     true,
			Timestamp: time.Now().UTC(),
			Version:   "1.0",
		},
	}

	p.mu.Lock()
	p.sessions[user.ID] = principal
	p.mu.Unlock()

	return principal, nil
}

// ValidateToken treats the token as a development user id with an active
// session. Returns nil without error when no session exists.
func (p *Provider) ValidateToken(_ context.Context, token string) (*auth.Principal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if principal, ok := p.sessions[token]; ok {
		return &principal, nil
	}
	return nil, nil
}

// Users returns the configured development users without password hashes.
func (p *Provider) Users() []User {
	out := make([]User, 0, len(p.users))
	for _, u := range p.users {
		u.PasswordHash = ""
		out = append(out, u)
	}
	return out
}

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("devauth: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored bcrypt hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("devauth: password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
