package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore implements Store on PostgreSQL. Append relies on the database for
// durability; the pipeline never retries on its own.
type PGStore struct {
	db *sql.DB
}

var (
	_ Store        = (*PGStore)(nil)
	_ PeriodLister = (*PGStore)(nil)
)

// Open connects with the pgx stdlib driver and applies pool defaults.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Append(ctx context.Context, event *Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events
			(id, event_type, status, user_id, provider, ip_address, user_agent, ts, metadata, encrypted, encrypted_metadata)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		event.ID,
		string(event.Type),
		string(event.Status),
		event.UserID,
		event.Provider,
		event.IPAddress,
		event.UserAgent,
		event.Timestamp.UTC(),
		metadata,
		event.Encrypted,
		event.EncryptedMetadata,
	)
	return err
}

func (s *PGStore) ListByUser(ctx context.Context, userID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, event_type, status, user_id, provider, ip_address, user_agent, ts, metadata, encrypted, encrypted_metadata
		from audit_events
		where user_id = $1
		order by ts asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PGStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from audit_events where user_id = $1`, userID)
	return err
}

func (s *PGStore) ListByPeriod(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, event_type, status, user_id, provider, ip_address, user_agent, ts, metadata, encrypted, encrypted_metadata
		from audit_events
		where ts >= $1 and ts <= $2
		order by ts asc
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			e        Event
			metadata []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.Status,
			&e.UserID,
			&e.Provider,
			&e.IPAddress,
			&e.UserAgent,
			&e.Timestamp,
			&metadata,
			&e.Encrypted,
			&e.EncryptedMetadata,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata for event %s: %w", e.ID, err)
			}
		}
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
