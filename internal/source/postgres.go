package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// table describes how a category is read from Postgres.
type table struct {
	query  string
	filter string // the filter key bound to $1, if any
}

var tables = map[feature.Category]table{
	feature.CategoryWard: {
		query: `
			SELECT id, ward_name, district, city, latitude, longitude,
			       aqi, pm25, pm10, no2, o3, so2, co, data_source, measurement_date
			FROM air_quality
			WHERE ($1 = '' OR city = $1)
			ORDER BY id
			OFFSET $2 LIMIT $3`,
		filter: "city",
	},
	feature.CategorySchool: {
		query: `
			SELECT id, school_name, ward_name, lat, lng,
			       green_programs_count, avg_score, energy_saving_kw
			FROM schools
			WHERE ($1 = '' OR ward_name = $1)
			ORDER BY id
			OFFSET $2 LIMIT $3`,
		filter: "ward",
	},
}

// Postgres reads records straight from the application database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres connects to dsn and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Name() string { return "postgres" }

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Fetch(ctx context.Context, c feature.Category, q Query) ([]feature.Record, error) {
	t, ok := tables[c]
	if !ok {
		return nil, fmt.Errorf("%s: %w", c, ErrUnsupported)
	}
	start := time.Now()
	q = q.Normalized()

	rows, err := p.pool.Query(ctx, t.query, q.Filters[t.filter], q.Skip, q.Limit)
	if err != nil {
		observe(p.Name(), start, "error")
		return nil, fmt.Errorf("postgres: failed to query %s: %w", c, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		observe(p.Name(), start, "error")
		return nil, fmt.Errorf("postgres: failed to scan %s rows: %w", c, err)
	}

	records := make([]feature.Record, len(maps))
	for i, m := range maps {
		records[i] = feature.Record(m)
	}
	observe(p.Name(), start, "ok")
	return records, nil
}
