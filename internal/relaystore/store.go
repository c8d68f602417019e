// Package relaystore keeps the relay messages that reach the collector. It is an
// append-only log: no durable queue, no retry.
package relaystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/better-analytics/internal/sqliteutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store persists relay messages in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init applies the relay message schema.
func (s *Store) Init(ctx context.Context) error {
	return sqliteutil.Migrate(ctx, s.db, "relay", []string{
		`CREATE TABLE IF NOT EXISTS relay_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant TEXT NOT NULL,
			type TEXT NOT NULL,
			url TEXT,
			measurement_id TEXT,
			source TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			dedupe_key TEXT NOT NULL UNIQUE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_relay_messages_tenant ON relay_messages(tenant, occurred_at DESC);`,
	})
}

// InsertMessage stores m unless a message with the same dedupe key exists.
// Messages without a key get a unique one, so relay records are never
// collapsed; only a caller-supplied key makes a retry idempotent.
// Returns the stored message and whether it was inserted.
func (s *Store) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	if strings.TrimSpace(m.Type) == "" {
		return Message{}, false, errors.New("message type required")
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = s.now()
	}
	m.OccurredAt = m.OccurredAt.UTC()
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = s.now()
	}
	m.ReceivedAt = m.ReceivedAt.UTC()
	if m.DedupeKey == "" {
		m.DedupeKey = string(m.Source) + ":" + uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_messages(tenant, type, url, measurement_id, source, occurred_at, received_at, dedupe_key)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(dedupe_key) DO NOTHING`,
		m.Tenant,
		m.Type,
		nullIfEmpty(m.URL),
		nullIfEmpty(m.MeasurementID),
		string(m.Source),
		m.OccurredAt,
		m.ReceivedAt,
		m.DedupeKey,
	)
	if err != nil {
		return Message{}, false, fmt.Errorf("insert relay message: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return m, false, nil
	}
	m.ID, _ = res.LastInsertId()
	return m, true, nil
}

// ListMessages returns the newest messages first, optionally for one tenant.
func (s *Store) ListMessages(ctx context.Context, tenant string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := `SELECT id, tenant, type, url, measurement_id, source, occurred_at, received_at, dedupe_key
		FROM relay_messages`
	var args []any
	if tenant != "" {
		query += ` WHERE tenant = ?`
		args = append(args, tenant)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list relay messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m        Message
			url, mid sql.NullString
			source   string
		)
		if err := rows.Scan(&m.ID, &m.Tenant, &m.Type, &url, &mid, &source, &m.OccurredAt, &m.ReceivedAt, &m.DedupeKey); err != nil {
			return nil, fmt.Errorf("scan relay message: %w", err)
		}
		m.URL = url.String
		m.MeasurementID = mid.String
		m.Source = Source(source)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter relay messages: %w", err)
	}
	return out, nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
