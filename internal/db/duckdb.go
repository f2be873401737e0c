// Package db keeps a DuckDB copy of every fetched domain record, including
// records that could not be placed on the map, for tabular views and ad hoc
// SQL.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir    string
	DBName     string
	Extensions []string
}

// Store is the DuckDB record store.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	category   VARCHAR NOT NULL,
	position   INTEGER NOT NULL,
	record_id  VARCHAR NOT NULL,
	name       VARCHAR,
	latitude   DOUBLE,
	longitude  DOUBLE,
	mapped     BOOLEAN NOT NULL,
	raw        VARCHAR,
	fetched_at TIMESTAMP NOT NULL
)`

// Open opens (or creates) the database and its schema.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "greenmap"
		}
		dsn = filepath.Join(duckdbDir, name+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// offline hosts can still use the store without extensions
			log.Warn("duckdb extension unavailable", "extension", ext, "error", err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: conn, log: log}, nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceCategory swaps the stored records of one category for records.
// b must be the normalization of exactly these records.
func (s *Store) ReplaceCategory(ctx context.Context, c feature.Category, records []feature.Record, b feature.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE category = ?`, string(c)); err != nil {
		return fmt.Errorf("clearing %s: %w", c, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (category, position, record_id, name, latitude, longitude, mapped, raw, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	features := b.Features
	for i, rec := range records {
		mapped := i < len(b.Mapped) && b.Mapped[i]
		var lat, lon sql.NullFloat64
		if mapped && len(features) > 0 {
			f := features[0]
			features = features[1:]
			lat = sql.NullFloat64{Float64: f.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: f.Longitude, Valid: true}
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			raw = []byte("null")
		}
		_, err = stmt.ExecContext(ctx, string(c), i, feature.RecordID(rec, c, i), feature.RecordName(rec, c),
			lat, lon, mapped, string(raw), now)
		if err != nil {
			return fmt.Errorf("inserting %s record %d: %w", c, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("records stored", "category", c, "count", len(records), "excluded", b.Excluded)
	return nil
}

// Row is one stored record.
type Row struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Mapped    bool           `json:"mapped" doc:"Whether the record is drawn on the map"`
	Raw       map[string]any `json:"raw"`
}

// Records returns a page of a category in fetch order and the total count.
func (s *Store) Records(ctx context.Context, c feature.Category, offset, limit int) ([]Row, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM records WHERE category = ?`, string(c)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting %s: %w", c, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, name, latitude, longitude, mapped, raw
		FROM records WHERE category = ?
		ORDER BY position
		LIMIT ? OFFSET ?`, string(c), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying %s: %w", c, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var (
			r        Row
			name     sql.NullString
			lat, lon sql.NullFloat64
			raw      sql.NullString
		)
		if err := rows.Scan(&r.ID, &name, &lat, &lon, &r.Mapped, &raw); err != nil {
			return nil, 0, fmt.Errorf("scanning %s: %w", c, err)
		}
		r.Name = name.String
		if lat.Valid && lon.Valid {
			r.Latitude, r.Longitude = &lat.Float64, &lon.Float64
		}
		if raw.Valid {
			json.Unmarshal([]byte(raw.String), &r.Raw)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Count is the number of stored and mapped records of a category.
type Count struct {
	Category feature.Category `json:"category"`
	Total    int              `json:"total"`
	Mapped   int              `json:"mapped"`
}

// Counts summarizes the store per category.
func (s *Store) Counts(ctx context.Context) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, count(*), count(*) FILTER (WHERE mapped)
		FROM records GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		var cat string
		if err := rows.Scan(&cat, &c.Total, &c.Mapped); err != nil {
			return nil, err
		}
		c.Category = feature.Category(cat)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Tables lists the tables in the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

// Query runs ad hoc SQL and returns column names and rows as maps.
func (s *Store) Query(ctx context.Context, query string) ([]string, []map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return columns, results, rows.Err()
}
