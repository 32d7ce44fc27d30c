package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Writer is the set of operations available inside one unit of work.
// Everything written through a Writer commits or rolls back together.
type Writer interface {
	// Upsert creates the record for key with fields, or overwrites only the
	// given fields of the existing record. created reports which happened.
	Upsert(ctx context.Context, kind Kind, key, fields Fields) (rec Record, created bool, err error)
	// GetOrCreate returns the record for key, creating an empty one if needed.
	GetOrCreate(ctx context.Context, kind Kind, key Fields) (rec Record, created bool, err error)
	// Update overwrites fields of a record obtained from this Writer.
	Update(ctx context.Context, rec Record, fields Fields) (Record, error)
}

// Backend runs units of work against a metric store.
type Backend interface {
	Do(ctx context.Context, fn func(Writer) error) error
}

// Upsert runs a single Upsert in its own unit of work.
func Upsert(ctx context.Context, b Backend, kind Kind, key, fields Fields) (Record, bool, error) {
	var (
		rec     Record
		created bool
	)
	err := b.Do(ctx, func(w Writer) error {
		var err error
		rec, created, err = w.Upsert(ctx, kind, key, fields)
		return err
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, created, nil
}

// Store manages the PostgreSQL connection pool holding the metric tables.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool and ensures the schema exists.
func New(ctx context.Context, connString string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the metric tables with their natural-key constraints.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS frame_results (
			id BIGSERIAL PRIMARY KEY,
			experiment TEXT NOT NULL,
			frame_index BIGINT NOT NULL,
			trace TEXT NOT NULL DEFAULT '',
			value TEXT,
			UNIQUE (experiment, frame_index, trace)
		);
		CREATE TABLE IF NOT EXISTS frame_latencies (
			id BIGSERIAL PRIMARY KEY,
			experiment TEXT NOT NULL,
			frame_index BIGINT NOT NULL,
			value TEXT,
			latency_ms DOUBLE PRECISION,
			finished_at TIMESTAMPTZ,
			UNIQUE (experiment, frame_index)
		);
		CREATE TABLE IF NOT EXISTS resource_latencies (
			id BIGSERIAL PRIMARY KEY,
			experiment TEXT NOT NULL,
			trace TEXT NOT NULL DEFAULT '',
			frame_index BIGINT NOT NULL,
			cpu TEXT NOT NULL DEFAULT '',
			memory TEXT NOT NULL DEFAULT '',
			latency_ms DOUBLE PRECISION,
			finished_at TIMESTAMPTZ,
			UNIQUE (experiment, trace, frame_index, cpu, memory)
		);
		CREATE TABLE IF NOT EXISTS data_stats (
			id BIGSERIAL PRIMARY KEY,
			app VARCHAR(512) NOT NULL,
			trace VARCHAR(512) NOT NULL DEFAULT '',
			name VARCHAR(512) NOT NULL,
			value VARCHAR(8192),
			UNIQUE (app, trace, name)
		);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Do acquires a connection, runs fn inside one transaction and commits.
// The connection goes back to the pool whether or not fn succeeds, so a
// failed frame never leaves a poisoned session behind.
func (s *Store) Do(ctx context.Context, fn func(Writer) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire: %w", ErrUnavailable, err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback(context.Background())

	if err := fn(&pgWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return nil
}

// Summary aggregates what one experiment has recorded.
type Summary struct {
	Experiment   string
	Results      int64
	Latencies    int64
	Profiles     int64
	AvgLatencyMs float64
}

// Summaries lists per-experiment row counts. An empty experiment lists all.
func (s *Store) Summaries(ctx context.Context, experiment string) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		WITH e AS (
			SELECT experiment FROM frame_results
			UNION SELECT experiment FROM frame_latencies
			UNION SELECT experiment FROM resource_latencies
		)
		SELECT e.experiment,
			(SELECT COUNT(*) FROM frame_results r WHERE r.experiment = e.experiment),
			(SELECT COUNT(*) FROM frame_latencies l WHERE l.experiment = e.experiment),
			(SELECT COUNT(*) FROM resource_latencies p WHERE p.experiment = e.experiment),
			(SELECT COALESCE(AVG(latency_ms), 0) FROM frame_latencies l WHERE l.experiment = e.experiment)
		FROM e
		WHERE $1 = '' OR e.experiment = $1
		ORDER BY e.experiment
	`, experiment)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var sum Summary
		err := row.Scan(&sum.Experiment, &sum.Results, &sum.Latencies, &sum.Profiles, &sum.AvgLatencyMs)
		return sum, err
	})
}

// FrameRows returns every frame-keyed record stored for one experiment frame.
func (s *Store) FrameRows(ctx context.Context, experiment string, index int64) ([]Record, error) {
	var out []Record
	for _, kind := range []Kind{Results, Latencies, ResourceLatencies} {
		cols := kind.Columns()
		q := fmt.Sprintf("SELECT id, %s FROM %s WHERE experiment = $1 AND frame_index = $2 ORDER BY id",
			joinCols(cols), kind.Table)
		rows, err := s.pool.Query(ctx, q, experiment, index)
		if err != nil {
			return nil, err
		}
		recs, err := collectRecords(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Reset drops all metric tables. The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS frame_results CASCADE;
		DROP TABLE IF EXISTS frame_latencies CASCADE;
		DROP TABLE IF EXISTS resource_latencies CASCADE;
		DROP TABLE IF EXISTS data_stats CASCADE;
	`)
	return err
}
