// Package audit normalizes, minimizes, encrypts and persists the audit
// events behind every authentication and authorization decision.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vakt.org/internal/obs"
	"vakt.org/internal/seal"
)

// EventType classifies a security-relevant action.
type EventType string

const (
	EventAuthentication  EventType = "authentication"
	EventLogout          EventType = "logout"
	EventPermissionCheck EventType = "permission_check"
	EventTokenRefresh    EventType = "token_refresh"
	EventDataExport      EventType = "data_export"
	EventDataDeletion    EventType = "data_deletion"
)

// Status is the outcome recorded with an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// Event is created once per security-relevant action and immutable after the
// pipeline has recorded it. Metadata moves into EncryptedMetadata when an
// encryption key is configured.
type Event struct {
	ID                string         `json:"eventId"`
	Type              EventType      `json:"eventType"`
	Status            Status         `json:"status"`
	UserID            string         `json:"userId,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	IPAddress         string         `json:"ipAddress,omitempty"`
	UserAgent         string         `json:"userAgent,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	Metadata          map[string]any `json:"metadata"`
	Encrypted         bool           `json:"encrypted"`
	EncryptedMetadata string         `json:"encryptedMetadata,omitempty"`
}

// Store is the persistence collaborator. The core defines the contract only;
// durability and ordering are the implementation's responsibility. Append
// either durably succeeds or returns an error.
type Store interface {
	Append(ctx context.Context, event *Event) error
	ListByUser(ctx context.Context, userID string) ([]Event, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// PeriodLister is implemented by stores that can serve period queries for
// compliance reports. Optional: BuildReport fails cleanly without it.
type PeriodLister interface {
	ListByPeriod(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Config controls the pipeline. Constructed once at startup, read-only after.
type Config struct {
	GDPREnabled      bool
	AuditLogging     bool
	EncryptionKey    string // 64 hex chars; empty disables encryption
	DataMinimization bool
	RetentionPeriod  string
}

// Pipeline applies minimization and encryption and hands events to the store.
// Stateless between calls; safe for unlimited concurrent use.
type Pipeline struct {
	cfg    Config
	cipher *seal.Cipher
	store  Store
	now    func() time.Time
}

// NewPipeline wires the pipeline. A configured-but-invalid encryption key is
// a construction-time failure, never a silent downgrade to plaintext.
func NewPipeline(cfg Config, store Store) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	p := &Pipeline{cfg: cfg, store: store, now: time.Now}
	if cfg.EncryptionKey != "" {
		cipher, err := seal.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		p.cipher = cipher
	}
	return p, nil
}

// EncryptionEnabled reports whether metadata is encrypted at rest.
func (p *Pipeline) EncryptionEnabled() bool { return p.cipher != nil }

// Record normalizes the event and appends it to the store. No-op when audit
// logging is disabled. Storage failures propagate unmodified so a caller can
// treat a lost audit trail as fatal.
func (p *Pipeline) Record(ctx context.Context, event *Event) error {
	if !p.cfg.AuditLogging {
		return nil
	}
	if event.ID == "" {
		event.ID = "audit-" + uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if p.cfg.DataMinimization {
		event.IPAddress = MinimizeIP(event.IPAddress)
		event.UserAgent = MinimizeUserAgent(event.UserAgent)
	}

	if p.cipher != nil {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
		envelope, err := p.cipher.Encrypt(string(raw))
		if err != nil {
			return fmt.Errorf("audit: encrypt metadata: %w", err)
		}
		event.EncryptedMetadata = envelope
		event.Metadata = map[string]any{}
		event.Encrypted = true
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	obs.ObserveAuditEvent(string(event.Type))
	return nil
}

// PermissionCheck is the input for recording an authorization decision.
type PermissionCheck struct {
	UserID     string
	Permission string
	Resource   string
	Granted    bool
	Context    map[string]any
	Reason     string
}

// RecordPermissionCheck normalizes a permission decision into an audit event.
func (p *Pipeline) RecordPermissionCheck(ctx context.Context, check PermissionCheck) error {
	status := StatusDenied
	if check.Granted {
		status = StatusGranted
	}
	metadata := map[string]any{
		"permission": check.Permission,
	}
	if check.Resource != "" {
		metadata["resource"] = check.Resource
	}
	if len(check.Context) > 0 {
		metadata["context"] = check.Context
	}
	if check.Reason != "" {
		metadata["reason"] = check.Reason
	}
	return p.Record(ctx, &Event{
		Type:     EventPermissionCheck,
		Status:   status,
		UserID:   check.UserID,
		Metadata: metadata,
	})
}

// ExportUserData returns every stored event for the user, as stored. Events
// recorded with encryption stay encrypted; decryption is the caller's call.
func (p *Pipeline) ExportUserData(ctx context.Context, userID string) ([]Event, error) {
	return p.store.ListByUser(ctx, userID)
}

// DeleteUserData removes every stored event for the user. Deleting a user
// with no events is not an error.
func (p *Pipeline) DeleteUserData(ctx context.Context, userID string) error {
	return p.store.DeleteByUser(ctx, userID)
}

// DecryptMetadata recovers the raw metadata of an encrypted event for callers
// holding the key, e.g. a data-subject access request that needs plaintext.
func (p *Pipeline) DecryptMetadata(event Event) (map[string]any, error) {
	if !event.Encrypted {
		return event.Metadata, nil
	}
	if p.cipher == nil {
		return nil, errors.New("audit: no encryption key configured")
	}
	raw, err := p.cipher.Decrypt(event.EncryptedMetadata)
	if err != nil {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("audit: unmarshal metadata: %w", err)
	}
	return metadata, nil
}
