package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"vakt.org/internal/audit"
	"vakt.org/internal/auth"
	"vakt.org/internal/obs"
	"vakt.org/internal/stream"
)

type stubProvider struct{}

func (stubProvider) Name() string { return "dev" }

func (stubProvider) LoginURL(ctx context.Context, state string) (string, error) {
	return "/auth/dev/login?state=" + state, nil
}

func (stubProvider) HandleCallback(ctx context.Context, code, state string) (auth.Principal, error) {
	switch code {
	case "kari":
		return auth.Principal{ID: "dev:kari", Name: "Kari", Roles: []string{"editor"}}, nil
	case "root":
		return auth.Principal{ID: "dev:root", Name: "Root", Roles: []string{"admin"}}, nil
	default:
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
}

func (stubProvider) ValidateToken(ctx context.Context, token string) (*auth.Principal, error) {
	return nil, errors.New("not supported")
}

func newTestAPI(t *testing.T) (http.Handler, *audit.MemStore) {
	t.Helper()

	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: "httpapi-test-secret"})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	resolver, err := auth.NewResolver(auth.RBACConfig{Roles: []auth.RoleDefinition{
		{Name: "admin", Permissions: []string{"*:*"}},
		{Name: "editor", Permissions: []string{"documents:read", "documents:update"}},
	}})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	store := audit.NewMemStore()
	pipeline, err := audit.NewPipeline(audit.Config{
		GDPREnabled:      true,
		AuditLogging:     true,
		DataMinimization: true,
	}, store)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	svc, err := auth.NewService(tokens,
		auth.WithResolver(resolver),
		auth.WithPipeline(pipeline),
		auth.WithProvider(auth.ProviderDev, stubProvider{}),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	api := New(svc, stream.New(), ReadyProbe{}, "test")
	return api.Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.10:4711"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, code string) loginResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/callback/dev", "", callbackRequest{Code: code})
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func TestHealthAndInfo(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vakt-api") {
		t.Fatalf("healthz body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}

	if rec := doJSON(t, h, http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/login/dev?state=abc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "state=abc") {
		t.Fatalf("login body = %s", rec.Body.String())
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/auth/login/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/v1/auth/login/dev", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method = %d", rec.Code)
	}
}

func TestCallbackAndVerifyFlow(t *testing.T) {
	h, _ := newTestAPI(t)
	resp := login(t, h, "kari")

	if resp.Tokens.AccessToken == "" || resp.Tokens.TokenType != "Bearer" {
		t.Fatalf("tokens = %+v", resp.Tokens)
	}
	if len(resp.User.Permissions) == 0 {
		t.Fatalf("permissions not resolved: %+v", resp.User)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/auth/verify", resp.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "dev:kari") {
		t.Fatalf("verify body = %s", rec.Body.String())
	}

	if rec := doJSON(t, h, http.MethodGet, "/v1/auth/verify", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("verify without token = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/v1/auth/verify", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("verify with garbage = %d", rec.Code)
	}
}

func TestCallbackRejections(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/callback/dev", "", callbackRequest{Code: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/callback/dev", "", callbackRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing code = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/callback/ghost", "", callbackRequest{Code: "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider = %d", rec.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	resp := login(t, h, "kari")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: resp.Tokens.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: "garbage"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage refresh = %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty refresh = %d", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	h, store := newTestAPI(t)
	resp := login(t, h, "kari")

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", resp.Tokens.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", rec.Code)
	}
	events, _ := store.ListByUser(context.Background(), "dev:kari")
	found := false
	for _, ev := range events {
		if ev.Type == audit.EventLogout {
			found = true
		}
	}
	if !found {
		t.Fatalf("logout not audited: %+v", events)
	}
}

func TestComplianceExportAndErase(t *testing.T) {
	h, _ := newTestAPI(t)
	kari := login(t, h, "kari")
	root := login(t, h, "root")

	// Self export is always allowed.
	rec := doJSON(t, h, http.MethodGet, "/v1/compliance/export/dev:kari", kari.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("self export = %d, body %s", rec.Code, rec.Body.String())
	}

	// Foreign export needs the compliance permission.
	rec = doJSON(t, h, http.MethodGet, "/v1/compliance/export/dev:root", kari.Tokens.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign export without permission = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/compliance/export/dev:kari", root.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin export = %d", rec.Code)
	}

	// Erasure, same rules.
	rec = doJSON(t, h, http.MethodDelete, "/v1/compliance/user/dev:kari", root.Tokens.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("erase = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/compliance/export/dev:kari", root.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export after erase = %d", rec.Code)
	}
	var export struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &export); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	// Only the erasure record survives.
	if len(export.Events) != 1 || export.Events[0].Type != audit.EventDataDeletion {
		t.Fatalf("post-erase trail = %+v", export.Events)
	}
}

func TestComplianceReport(t *testing.T) {
	h, _ := newTestAPI(t)
	kari := login(t, h, "kari")
	root := login(t, h, "root")

	rec := doJSON(t, h, http.MethodGet, "/v1/compliance/report", kari.Tokens.AccessToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("report without permission = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/compliance/report", root.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d, body %s", rec.Code, rec.Body.String())
	}
	var report audit.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.TotalEvents == 0 || report.EventsByType["authentication"] == 0 {
		t.Fatalf("report = %+v", report)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/compliance/report?from=not-a-time", root.Tokens.AccessToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad period = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(base, 1, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
}

func TestRateLimitSpawnsNoGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		RateLimit(http.NotFoundHandler(), 1, 1)
	}
	time.Sleep(10 * time.Millisecond)
	if after := runtime.NumGoroutine(); after > before+5 {
		t.Fatalf("goroutines grew from %d to %d", before, after)
	}
}

func TestAccessLogging(t *testing.T) {
	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	defer obs.Logger().SetOutput(os.Stdout)

	h, _ := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode access log %q: %v", buf.String(), err)
	}
	if entry["method"] != "GET" || entry["path"] != "/healthz" {
		t.Fatalf("access log entry = %v", entry)
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Fatalf("logged status = %v", entry["status"])
	}
	if entry["request_id"] != rec.Header().Get("X-Request-ID") {
		t.Fatalf("request id %v does not match header %q", entry["request_id"], rec.Header().Get("X-Request-ID"))
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("empty header accepted")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("wrong scheme accepted")
	}
	if _, err := extractBearerToken("Bearer   "); err == nil {
		t.Fatal("blank token accepted")
	}
	tok, err := extractBearerToken("bearer abc.def.ghi")
	if err != nil || tok != "abc.def.ghi" {
		t.Fatalf("got %q, %v", tok, err)
	}
}
