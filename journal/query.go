package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

var selectPositions = "SELECT " + strings.Join(position.Columns, ", ") + " FROM positions"

// Snapshot returns the rows in scope of f in insertion order.
func (j *SQLite) Snapshot(ctx context.Context, table string, f changefeed.Filter) ([]position.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkFilter(f); err != nil {
		return nil, err
	}

	q := selectPositions
	var args []any
	if !f.IsZero() {
		q += " WHERE " + f.Column + " = ?"
		args = append(args, f.Value)
	}
	q += " ORDER BY rowid ASC"

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	var out []position.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single stored position.
func (j *SQLite) Get(ctx context.Context, userID, securityID string) (position.Row, error) {
	rows, err := j.db.QueryContext(ctx,
		selectPositions+" WHERE user_id = ? AND security_id = ?", userID, securityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("position %s/%s not found", userID, securityID)
	}
	return scanRow(rows)
}

func scanRow(rows *sql.Rows) (position.Row, error) {
	vals := make([]any, len(position.Columns))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	r := make(position.Row, len(vals))
	for i, c := range position.Columns {
		r[c] = vals[i]
	}
	return r, nil
}

// Change is one change log entry. Err is set when the payload could not be
// decoded.
type Change struct {
	Seq   int64
	Event changefeed.Event
	Err   error
}

// Head returns the sequence number of the newest change, 0 when empty.
func (j *SQLite) Head(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM position_changes`).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("change log head: %w", err)
	}
	return seq.Int64, nil
}

// Changes returns up to limit entries after seq, oldest first.
func (j *SQLite) Changes(ctx context.Context, after int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = j.batch
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, payload FROM position_changes WHERE seq > ? ORDER BY seq ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		ev, err := changefeed.ParseEvent([]byte(payload))
		out = append(out, Change{Seq: seq, Event: ev, Err: err})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
