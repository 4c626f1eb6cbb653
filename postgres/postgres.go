// Package postgres reads positions from Postgres with pgx and streams
// changes over LISTEN/NOTIFY. InstallSQL creates the trigger that publishes
// realtime-style JSON payloads on the channel.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/position"
)

const DefaultChannel = "livedesk_positions"

type Config struct {
	DSN          string        `yaml:"dsn" json:"dsn"`
	Channel      string        `yaml:"channel" json:"channel"`
	MaxConns     int32         `yaml:"max_conns" json:"max_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
}

type Store struct {
	pool    *pgxpool.Pool
	channel string
	timeout time.Duration
	log     zerolog.Logger
}

var _ changefeed.Source = (*Store)(nil)

// New opens a pool and checks that the database answers.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return NewWithPool(pool, cfg, log), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, cfg Config, log zerolog.Logger) *Store {
	ch := cfg.Channel
	if ch == "" {
		ch = DefaultChannel
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		pool:    pool,
		channel: ch,
		timeout: timeout,
		log:     logging.Component(log, "postgres"),
	}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Install creates the notify trigger for table.
func (s *Store) Install(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, InstallSQL(table, s.channel)); err != nil {
		return fmt.Errorf("install trigger on %s: %w", table, err)
	}
	return nil
}

// Snapshot returns every row of table in scope of f.
func (s *Store) Snapshot(ctx context.Context, table string, f changefeed.Filter) ([]position.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q, args := snapshotQuery(table, f)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	out := make([]position.Row, len(maps))
	for i, m := range maps {
		out[i] = position.Row(m)
	}
	return out, nil
}

func snapshotQuery(table string, f changefeed.Filter) (string, []any) {
	q := "SELECT * FROM " + pgx.Identifier{table}.Sanitize()
	if f.IsZero() {
		return q, nil
	}
	// ::text so uuid and integer id columns compare against the string value
	return q + " WHERE " + pgx.Identifier{f.Column}.Sanitize() + "::text = $1", []any{f.Value}
}
