package mockadmin

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

// ErrPixelExists is returned when a shop already has a pixel.
var ErrPixelExists = errors.New("web pixel already exists")

// Store contains all mock admin persistence logic.
type Store struct {
	db *sql.DB
}

// NewStore wires a mock admin data store backed by SQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies schema migrations for the mock admin database.
func (s *Store) Init(ctx context.Context) error {
	return sqliteutil.Migrate(ctx, s.db, "mock admin", []string{
		`CREATE TABLE IF NOT EXISTS web_pixels (
			id TEXT PRIMARY KEY,
			shop TEXT NOT NULL UNIQUE,
			settings TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	})
}

// CreatePixel appends a pixel for shop. A second call for the same shop fails with ErrPixelExists.
func (s *Store) CreatePixel(ctx context.Context, shop, settings string) (Pixel, error) {
	if strings.TrimSpace(shop) == "" {
		return Pixel{}, errors.New("shop required")
	}
	pixel := Pixel{
		ID:        "gid://shopify/WebPixel/" + uuid.NewString(),
		Shop:      shop,
		Settings:  settings,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO web_pixels(id, shop, settings, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(shop) DO NOTHING`,
		pixel.ID, pixel.Shop, pixel.Settings, pixel.CreatedAt,
	)
	if err != nil {
		return Pixel{}, fmt.Errorf("insert pixel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Pixel{}, ErrPixelExists
	}
	return pixel, nil
}

// ListPixels returns the pixels of one shop, or of every shop when shop is empty.
func (s *Store) ListPixels(ctx context.Context, shop string) ([]Pixel, error) {
	query := `SELECT id, shop, settings, created_at FROM web_pixels`
	var args []any
	if shop != "" {
		query += ` WHERE shop = ?`
		args = append(args, shop)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list pixels: %w", err)
	}
	defer rows.Close()
	pixels := []Pixel{}
	for rows.Next() {
		var p Pixel
		if err := rows.Scan(&p.ID, &p.Shop, &p.Settings, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pixel: %w", err)
		}
		pixels = append(pixels, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter pixels: %w", err)
	}
	return pixels, nil
}
