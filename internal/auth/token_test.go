package auth

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

const testSecret = "unit-test-secret-do-not-reuse"

func newTestManager(t *testing.T, opts ...TokenOption) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{Secret: testSecret, Issuer: "vakt-test"}, opts...)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func testPrincipal() Principal {
	return Principal{
		ID:          "idporten:12345678901",
		Name:        "Kari Nordmann",
		Email:       "kari@example.no",
		Roles:       []string{"citizen", "employee"},
		Permissions: []string{"documents:read", "profile:read"},
		Tenant: &Tenant{
			ID:               "t-0301",
			Kind:             TenantMunicipality,
			Name:             "Oslo",
			MunicipalityCode: "0301",
		},
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	principal := testPrincipal()

	pair, err := m.Issue(principal)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("token type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expiresIn = %d, want 900", pair.ExpiresIn)
	}

	got, err := m.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != principal.ID || got.Name != principal.Name || got.Email != principal.Email {
		t.Fatalf("principal identity mismatch: %+v", got)
	}
	if !slices.Equal(got.Roles, principal.Roles) {
		t.Fatalf("roles = %v, want %v", got.Roles, principal.Roles)
	}
	if !slices.Equal(got.Permissions, principal.Permissions) {
		t.Fatalf("permissions = %v, want %v", got.Permissions, principal.Permissions)
	}
	if got.Tenant == nil || got.Tenant.MunicipalityCode != "0301" {
		t.Fatalf("tenant not preserved: %+v", got.Tenant)
	}
}

func TestEmptyRolesNeverNil(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Issue(Principal{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := m.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Roles == nil || got.Permissions == nil {
		t.Fatal("roles/permissions must be empty, not nil")
	}
	if len(got.Roles) != 0 || len(got.Permissions) != 0 {
		t.Fatalf("expected empty sets, got %v / %v", got.Roles, got.Permissions)
	}
}

func TestTypeSeparation(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
	if _, err := m.Verify(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}

	got, err := m.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if got.ID != "idporten:12345678901" {
		t.Fatalf("refresh subject = %q", got.ID)
	}
	if got.Name != "" || got.Email != "" || len(got.Roles) != 0 {
		t.Fatalf("refresh principal carries more than the subject: %+v", got)
	}
}

func TestExpiry(t *testing.T) {
	m, err := NewTokenManager(TokenConfig{Secret: testSecret, AccessTokenTTL: "1ms"})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	pair, err := m.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := m.Verify(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestExpiryWithFrozenClock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := newTestManager(t, WithTimeSource(func() time.Time { return clock() }))

	pair, err := m.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	clock = func() time.Time { return now.Add(16 * time.Minute) }
	if _, err := m.Verify(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token accepted past expiry: %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := newTestManager(t)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c", "eyJh.eyJ.sig"} {
		if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	m := newTestManager(t)
	other, err := NewTokenManager(TokenConfig{Secret: "a-different-secret", Issuer: "vakt-test"})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	pair, err := other.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}
}

func TestDecodeUnverified(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims := m.DecodeUnverified(pair.AccessToken)
	if claims == nil {
		t.Fatal("expected claims for a well-formed token")
	}
	if claims["sub"] != "idporten:12345678901" {
		t.Fatalf("sub = %v", claims["sub"])
	}
	if claims["type"] != "access" {
		t.Fatalf("type = %v", claims["type"])
	}

	if got := m.DecodeUnverified("garbage"); got != nil {
		t.Fatalf("expected nil for malformed input, got %v", got)
	}
	if got := m.DecodeUnverified(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestConcurrentVerify(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Issue(testPrincipal())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.Verify(pair.AccessToken)
			if err != nil {
				errs <- err
				return
			}
			if p.ID != "idporten:12345678901" || len(p.Roles) != 2 {
				errs <- errors.New("principal corrupted under concurrency")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestNewTokenManagerValidation(t *testing.T) {
	if _, err := NewTokenManager(TokenConfig{}); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if _, err := NewTokenManager(TokenConfig{Secret: "s", Algorithm: "ES256"}); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if _, err := NewTokenManager(TokenConfig{Secret: "s", AccessTokenTTL: "soon"}); err == nil {
		t.Fatal("expected error for bad ttl literal")
	}
	if _, err := NewTokenManager(TokenConfig{Algorithm: "RS256"}); err == nil {
		t.Fatal("expected error for RS256 without keys")
	}
}

func TestParseTTL(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1ms", time.Millisecond, true},
		{"1h30m", 90 * time.Minute, true},
		{"7d", 7 * 24 * time.Hour, true},
		{"2w", 14 * 24 * time.Hour, true},
		{"0.5d", 12 * time.Hour, true},
		{"", 0, false},
		{"-15m", 0, false},
		{"0d", 0, false},
		{"soon", 0, false},
		{"d", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseTTL(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseTTL(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseTTL(%q) succeeded, want error", tc.in)
		}
	}
}
