package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/position"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	defaultBatch        = 500
)

// Option configures a SQLite store.
type Option func(*SQLite)

// WithPollInterval sets how often subscribers check the change log.
func WithPollInterval(d time.Duration) Option {
	return func(j *SQLite) {
		if d > 0 {
			j.pollInterval = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(j *SQLite) { j.log = logging.Component(log, "journal") }
}

type SQLite struct {
	db           *sql.DB
	log          zerolog.Logger
	pollInterval time.Duration
	batch        int
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string, opts ...Option) (*SQLite, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		// every pooled connection would get its own database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	j := &SQLite{
		db:           db,
		log:          zerolog.Nop(),
		pollInterval: DefaultPollInterval,
		batch:        defaultBatch,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

var upsertSQL = func() string {
	cols := position.Columns
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var sets []string
	for _, c := range cols {
		if c == position.ColUserID || c == position.ColSecurityID {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(
		"INSERT INTO positions (%s) VALUES (%s)\nON CONFLICT (user_id, security_id) DO UPDATE SET %s",
		strings.Join(cols, ", "), marks, strings.Join(sets, ", "),
	)
}()

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert inserts the row or replaces the stored row with the same user and
// security id. The row must map cleanly; it is normalised before storage.
func (j *SQLite) Upsert(ctx context.Context, r position.Row) error {
	return upsert(ctx, j.db, r)
}

func upsert(ctx context.Context, db execer, r position.Row) error {
	p, err := position.FromRow(r)
	if err != nil {
		return err
	}
	stored := position.ToRow(p, position.OwnerFromRow(r))

	args := make([]any, len(position.Columns))
	for i, c := range position.Columns {
		args[i] = stored[c]
	}
	if _, err := db.ExecContext(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", p.UserID, p.SecurityID, err)
	}
	return nil
}

// Delete removes one position and reports whether it existed.
func (j *SQLite) Delete(ctx context.Context, userID, securityID string) (bool, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM positions WHERE user_id = ? AND security_id = ?`, userID, securityID)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", userID, securityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteUser removes every position of one user.
func (j *SQLite) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM positions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// Prune drops change log entries older than before. Subscribers that are
// already past them are unaffected.
func (j *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM position_changes WHERE created_at < ?`, before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	return res.RowsAffected()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

// Subscribe tails the change log from its current head.
func (j *SQLite) Subscribe(ctx context.Context, table string) (changefeed.Subscription, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	head, err := j.Head(ctx)
	if err != nil {
		return nil, err
	}
	return j.tail(ctx, head), nil
}
