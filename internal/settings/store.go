package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example.com/better-analytics/internal/sqliteutil"
)

// Store persists settings records in SQLite. It is the persistence collaborator
// behind Service: FindByTenant, Upsert and CreateIfAbsent, nothing more.
type Store struct {
	db *sql.DB
}

// NewStore constructs a settings data access object.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies the settings schema.
func (s *Store) Init(ctx context.Context) error {
	return sqliteutil.Migrate(ctx, s.db, "settings", []string{
		`CREATE TABLE IF NOT EXISTS tenant_settings (
			tenant TEXT PRIMARY KEY,
			measurement_id TEXT NOT NULL DEFAULT '',
			track_product_prices INTEGER NOT NULL DEFAULT 1,
			track_discounts INTEGER NOT NULL DEFAULT 1,
			track_customer_consent INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	})
}

// FindByTenant returns nil without error when the tenant has no row.
func (s *Store) FindByTenant(ctx context.Context, tenant string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant, measurement_id, track_product_prices, track_discounts, track_customer_consent, updated_at
		 FROM tenant_settings WHERE tenant = ?`, tenant).
		Scan(&rec.Tenant, &rec.MeasurementID, &rec.TrackProductPrices, &rec.TrackDiscounts, &rec.TrackCustomerConsent, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find settings: %w", err)
	}
	return &rec, nil
}

// Upsert writes every field of rec in a single statement; the last write wins.
func (s *Store) Upsert(ctx context.Context, rec Record) (Record, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_settings(tenant, measurement_id, track_product_prices, track_discounts, track_customer_consent, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant) DO UPDATE SET measurement_id = excluded.measurement_id,
			track_product_prices = excluded.track_product_prices,
			track_discounts = excluded.track_discounts,
			track_customer_consent = excluded.track_customer_consent,
			updated_at = excluded.updated_at`,
		rec.Tenant, rec.MeasurementID, rec.TrackProductPrices, rec.TrackDiscounts, rec.TrackCustomerConsent, now,
	)
	if err != nil {
		return Record{}, fmt.Errorf("upsert settings: %w", err)
	}
	rec.UpdatedAt = now
	return rec, nil
}

// CreateIfAbsent inserts rec unless the tenant already has a row, which is left
// untouched. It reports whether a row was inserted.
func (s *Store) CreateIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_settings(tenant, measurement_id, track_product_prices, track_discounts, track_customer_consent, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant) DO NOTHING`,
		rec.Tenant, rec.MeasurementID, rec.TrackProductPrices, rec.TrackDiscounts, rec.TrackCustomerConsent, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("create settings: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
