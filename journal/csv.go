package journal

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

// ReadCSV reads rows from a CSV whose header names position columns.
// Unknown columns are ignored and empty cells are treated as absent. Values
// stay text; FromRow coerces them.
func ReadCSV(r io.Reader) ([]position.Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	if !slices.Contains(header, position.ColUserID) || !slices.Contains(header, position.ColSecurityID) {
		return nil, fmt.Errorf("csv header needs %s and %s", position.ColUserID, position.ColSecurityID)
	}

	var rows []position.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", len(rows)+2, err)
		}

		row := position.Row{}
		for i, col := range header {
			if i >= len(rec) || !slices.Contains(position.Columns, col) {
				continue
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				row[col] = v
			}
		}
		rows = append(rows, row)
	}
}

// ImportCSV upserts every record read by ReadCSV. The import is one
// transaction; the first bad record aborts it.
func (j *SQLite) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	rows, err := ReadCSV(r)
	if err != nil {
		return 0, err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for i, row := range rows {
		if err := upsert(ctx, tx, row); err != nil {
			return 0, fmt.Errorf("csv line %d: %w", i+2, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ExportCSV writes the rows in scope of f with a header of every column.
func (j *SQLite) ExportCSV(ctx context.Context, w io.Writer, f changefeed.Filter) (int, error) {
	rows, err := j.Snapshot(ctx, Table, f)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(position.Columns); err != nil {
		return 0, err
	}
	rec := make([]string, len(position.Columns))
	for _, r := range rows {
		for i, c := range position.Columns {
			rec[i] = r.Text(c)
		}
		if err := cw.Write(rec); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ExportChanges writes change log entries after seq as JSON lines, the
// format the replay command reads.
func (j *SQLite) ExportChanges(ctx context.Context, w io.Writer, after int64) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for {
		changes, err := j.Changes(ctx, after, j.batch)
		if err != nil {
			return n, err
		}
		for _, c := range changes {
			after = c.Seq
			if c.Err != nil {
				j.log.Warn().Err(c.Err).Int64("seq", c.Seq).Msg("skipping undecodable change")
				continue
			}
			if err := enc.Encode(c.Event); err != nil {
				return n, err
			}
			n++
		}
		if len(changes) < j.batch {
			return n, nil
		}
	}
}
