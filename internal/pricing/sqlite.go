package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS model_prices (
	model              TEXT PRIMARY KEY,
	input_per_million  REAL NOT NULL,
	output_per_million REAL NOT NULL,
	updated_at         INTEGER NOT NULL
)`

// SQLiteCatalog persists prices in a local sqlite file and serves lookups
// from an in-memory snapshot refreshed on every write.
type SQLiteCatalog struct {
	db       *sql.DB
	snapshot *StaticCatalog
}

// OpenSQLite opens (creating if needed) a price catalog database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open price catalog: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create price schema: %w", err)
	}

	c := &SQLiteCatalog{db: db, snapshot: NewStaticCatalog(nil)}
	if err := c.Refresh(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Upsert inserts or updates prices and refreshes the snapshot.
func (c *SQLiteCatalog) Upsert(ctx context.Context, prices []Price) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := time.Now().Unix()
	for _, p := range prices {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO model_prices(model, input_per_million, output_per_million, updated_at) VALUES(?, ?, ?, ?)
			 ON CONFLICT(model) DO UPDATE SET input_per_million = excluded.input_per_million,
			 output_per_million = excluded.output_per_million, updated_at = excluded.updated_at`,
			p.Model, p.InputPerMillion, p.OutputPerMillion, ts)
		if err != nil {
			return fmt.Errorf("failed to upsert price for %s: %w", p.Model, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices: %w", err)
	}
	return c.Refresh(ctx)
}

// All returns every stored price ordered by model.
func (c *SQLiteCatalog) All(ctx context.Context) ([]Price, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT model, input_per_million, output_per_million FROM model_prices ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []Price
	for rows.Next() {
		var p Price
		if err := rows.Scan(&p.Model, &p.InputPerMillion, &p.OutputPerMillion); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// Refresh reloads the in-memory snapshot from the database.
func (c *SQLiteCatalog) Refresh(ctx context.Context) error {
	prices, err := c.All(ctx)
	if err != nil {
		return err
	}
	c.snapshot.Replace(prices)
	log.Debug().Int("models", len(prices)).Msg("pricing: sqlite catalog refreshed")
	return nil
}

// Lookup implements Catalog.
func (c *SQLiteCatalog) Lookup(model string) (Price, bool) {
	return c.snapshot.Lookup(model)
}

// Ensure SQLiteCatalog implements Catalog
var _ Catalog = (*SQLiteCatalog)(nil)

// Chain tries each catalog in order.
type Chain []Catalog

// Lookup implements Catalog.
func (ch Chain) Lookup(model string) (Price, bool) {
	for _, c := range ch {
		if c == nil {
			continue
		}
		if p, ok := c.Lookup(model); ok {
			return p, true
		}
	}
	return Price{}, false
}
