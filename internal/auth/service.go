package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"vakt.org/internal/audit"
	"vakt.org/internal/obs"
	"vakt.org/internal/stream"
)

// RequestMeta carries client attributes of the request being served, used
// for audit records. Zero values are fine; the audit pipeline minimizes
// whatever is present.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// Observer is called after an auth operation has fully committed, including
// its audit write. Observers run synchronously on the request path, so they
// must be fast; anything slow should subscribe to the notification stream
// instead.
type Observer func(stream.Notification)

// Service wires providers, the permission resolver, the token manager and
// the audit pipeline together per request. Configuration is fixed at
// construction; all methods are safe for concurrent use.
type Service struct {
	tokens        *TokenManager
	resolver      *Resolver
	pipeline      *audit.Pipeline
	providers     map[ProviderKind]Provider
	notifications *stream.Stream
	observers     []Observer
	now           func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithResolver attaches a permission resolver. Without one, principals keep
// whatever permissions their provider supplied.
func WithResolver(r *Resolver) ServiceOption {
	return func(s *Service) { s.resolver = r }
}

// WithPipeline attaches the audit pipeline. Login, refresh and logout fail
// when their audit write fails.
func WithPipeline(p *audit.Pipeline) ServiceOption {
	return func(s *Service) { s.pipeline = p }
}

// WithProvider registers an identity-provider adapter under a kind.
func WithProvider(kind ProviderKind, p Provider) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.providers[kind] = p
		}
	}
}

// WithStream attaches a notification stream that receives post-commit
// login/logout/refresh notifications.
func WithStream(st *stream.Stream) ServiceOption {
	return func(s *Service) { s.notifications = st }
}

// WithObserver appends a post-commit observer.
func WithObserver(fn Observer) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// WithClock overrides the service clock (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService builds the orchestrator. The token manager is the only required
// collaborator.
func NewService(tokens *TokenManager, opts ...ServiceOption) (*Service, error) {
	if tokens == nil {
		return nil, errors.New("auth: token manager is required")
	}
	s := &Service{
		tokens:    tokens,
		providers: make(map[ProviderKind]Provider),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Providers returns the registered provider kinds, sorted.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for kind := range s.providers {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

func (s *Service) provider(name string) (ProviderKind, Provider, error) {
	kind, err := ParseProviderKind(name)
	if err != nil {
		return "", nil, err
	}
	p, ok := s.providers[kind]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrProviderNotFound, kind)
	}
	return kind, p, nil
}

// LoginURL returns the provider's login redirect for the given state.
func (s *Service) LoginURL(ctx context.Context, providerName, state string) (string, error) {
	_, p, err := s.provider(providerName)
	if err != nil {
		return "", err
	}
	return p.LoginURL(ctx, state)
}

// HandleCallback completes a login: the provider resolves the callback into
// a Principal, the resolver attaches the permission closure, the token
// manager mints a pair, and the outcome is audited. A failed audit write
// fails the login; a durable trail is part of authenticating. Notifications
// go out only after everything has committed.
func (s *Service) HandleCallback(ctx context.Context, providerName, code, state string, meta RequestMeta) (Principal, TokenPair, error) {
	kind, p, err := s.provider(providerName)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}

	principal, err := p.HandleCallback(ctx, code, state)
	if err != nil {
		obs.ObserveLogin(string(kind), "failure")
		s.auditLoginFailure(ctx, kind, meta, err)
		return Principal{}, TokenPair{}, err
	}

	if s.resolver != nil {
		principal.Permissions = s.resolver.ResolveUserPermissions(principal)
	}

	pair, err := s.tokens.Issue(principal)
	if err != nil {
		obs.ObserveLogin(string(kind), "failure")
		s.auditLoginFailure(ctx, kind, meta, err)
		return Principal{}, TokenPair{}, err
	}

	if s.pipeline != nil {
		event := &audit.Event{
			Type:      audit.EventAuthentication,
			Status:    audit.StatusSuccess,
			UserID:    principal.ID,
			Provider:  string(kind),
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Metadata:  s.loginMetadata(principal, meta),
		}
		if err := s.pipeline.Record(ctx, event); err != nil {
			obs.ObserveLogin(string(kind), "failure")
			return Principal{}, TokenPair{}, fmt.Errorf("auth: record login: %w", err)
		}
	}

	obs.ObserveLogin(string(kind), "success")
	s.notify(stream.Notification{
		Kind:      stream.KindLogin,
		UserID:    principal.ID,
		Provider:  string(kind),
		Timestamp: s.now().UTC(),
	})
	return principal, pair, nil
}

func (s *Service) loginMetadata(principal Principal, meta RequestMeta) map[string]any {
	md := map[string]any{
		"dataProcessingBasis": "legitimate_interest",
	}
	if principal.Consent != nil {
		md["consentGiven"] = principal.Consent.Given
	}
	if meta.RequestID != "" {
		md["requestId"] = meta.RequestID
	}
	return md
}

// auditLoginFailure records a failed login attempt. Best effort: the login
// has already failed, so an audit error is logged rather than layered on top.
func (s *Service) auditLoginFailure(ctx context.Context, kind ProviderKind, meta RequestMeta, cause error) {
	if s.pipeline == nil {
		return
	}
	event := &audit.Event{
		Type:      audit.EventAuthentication,
		Status:    audit.StatusFailure,
		Provider:  string(kind),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  map[string]any{"error": cause.Error()},
	}
	if meta.RequestID != "" {
		event.Metadata["requestId"] = meta.RequestID
	}
	if err := s.pipeline.Record(ctx, event); err != nil {
		obs.LogEntry(map[string]any{
			"level": "error",
			"msg":   "audit write for failed login lost",
			"error": err.Error(),
		})
	}
}

// ValidateToken verifies an access token and returns its Principal, or nil
// when the token is invalid for any reason.
func (s *Service) ValidateToken(tokenString string) *Principal {
	principal, err := s.tokens.Verify(tokenString)
	if err != nil {
		obs.ObserveTokenVerification("access", "failure")
		return nil
	}
	obs.ObserveTokenVerification("access", "success")
	return &principal
}

// Refresh exchanges a valid refresh token for a fresh pair. Permissions are
// re-resolved rather than copied, so role changes take effect on refresh.
// The refresh is audited; an audit failure fails the refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (TokenPair, error) {
	principal, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		obs.ObserveTokenVerification("refresh", "failure")
		return TokenPair{}, err
	}
	obs.ObserveTokenVerification("refresh", "success")

	if s.resolver != nil {
		principal.Permissions = s.resolver.ResolveUserPermissions(principal)
	}

	pair, err := s.tokens.Issue(principal)
	if err != nil {
		return TokenPair{}, err
	}

	if s.pipeline != nil {
		event := &audit.Event{
			Type:      audit.EventTokenRefresh,
			Status:    audit.StatusSuccess,
			UserID:    principal.ID,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		}
		if err := s.pipeline.Record(ctx, event); err != nil {
			return TokenPair{}, fmt.Errorf("auth: record refresh: %w", err)
		}
	}

	s.notify(stream.Notification{
		Kind:      stream.KindRefresh,
		UserID:    principal.ID,
		Timestamp: s.now().UTC(),
	})
	return pair, nil
}

// Logout records the logout and notifies subscribers. Tokens are stateless,
// so there is nothing to revoke here; callers drop their copies.
func (s *Service) Logout(ctx context.Context, userID string, meta RequestMeta) error {
	if s.pipeline != nil {
		event := &audit.Event{
			Type:      audit.EventLogout,
			Status:    audit.StatusSuccess,
			UserID:    userID,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		}
		if err := s.pipeline.Record(ctx, event); err != nil {
			return fmt.Errorf("auth: record logout: %w", err)
		}
	}
	s.notify(stream.Notification{
		Kind:      stream.KindLogout,
		UserID:    userID,
		Timestamp: s.now().UTC(),
	})
	return nil
}

// CheckPermission evaluates the permission for the principal and audits the
// decision. The decision itself never depends on the audit write.
func (s *Service) CheckPermission(ctx context.Context, principal Principal, permission string, pctx *PermissionContext) bool {
	granted := false
	if s.resolver != nil {
		granted = s.resolver.Check(principal, permission, pctx)
	}

	decision := "denied"
	if granted {
		decision = "granted"
	}
	obs.ObservePermissionCheck(decision)

	if s.pipeline != nil {
		check := audit.PermissionCheck{
			UserID:     principal.ID,
			Permission: permission,
			Granted:    granted,
		}
		if pctx != nil && pctx.MunicipalityCode != "" {
			check.Context = map[string]any{"municipalityCode": pctx.MunicipalityCode}
		}
		if err := s.pipeline.RecordPermissionCheck(ctx, check); err != nil {
			obs.LogEntry(map[string]any{
				"level": "error",
				"msg":   "audit write for permission check lost",
				"error": err.Error(),
			})
		}
	}
	return granted
}

// RequirePermission is CheckPermission with a caller-friendly error.
func (s *Service) RequirePermission(ctx context.Context, principal Principal, permission string, pctx *PermissionContext) error {
	if !s.CheckPermission(ctx, principal, permission, pctx) {
		return ErrPermissionDenied
	}
	return nil
}

// ComplianceReport aggregates audit activity for the period. Requires a
// store that supports period queries.
func (s *Service) ComplianceReport(ctx context.Context, from, to time.Time) (audit.Report, error) {
	if s.pipeline == nil {
		return audit.Report{}, errors.New("auth: audit pipeline not configured")
	}
	return s.pipeline.BuildReport(ctx, from, to)
}

// ExportUserData returns the user's audit trail for a data-subject access
// request.
func (s *Service) ExportUserData(ctx context.Context, userID string) ([]audit.Event, error) {
	if s.pipeline == nil {
		return nil, errors.New("auth: audit pipeline not configured")
	}
	return s.pipeline.ExportUserData(ctx, userID)
}

// DeleteUserData erases the user's audit trail and records the erasure
// itself, so the deletion leaves a trace even though the data does not.
func (s *Service) DeleteUserData(ctx context.Context, userID string, meta RequestMeta) error {
	if s.pipeline == nil {
		return errors.New("auth: audit pipeline not configured")
	}
	if err := s.pipeline.DeleteUserData(ctx, userID); err != nil {
		return err
	}
	return s.pipeline.Record(ctx, &audit.Event{
		Type:      audit.EventDataDeletion,
		Status:    audit.StatusSuccess,
		UserID:    userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

func (s *Service) notify(n stream.Notification) {
	if s.notifications != nil {
		s.notifications.Publish(n)
	}
	for _, fn := range s.observers {
		fn(n)
	}
}
