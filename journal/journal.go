// Package journal is a SQLite-backed positions store. Every write to the
// positions table is also recorded in a change log by triggers, and
// subscribers tail that log, so the store works as a local stand-in for the
// realtime backend.
package journal

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

// Table is the only table the store serves.
const Table = changefeed.DefaultTable

var ErrUnknownTable = errors.New("unknown table")

// Journal is the positions store used by the CLI and the server.
type Journal interface {
	changefeed.Source
	Upsert(ctx context.Context, r position.Row) error
	Delete(ctx context.Context, userID, securityID string) (bool, error)
	Close() error
}

func checkTable(table string) error {
	if table != Table {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

func checkFilter(f changefeed.Filter) error {
	if f.IsZero() || slices.Contains(position.Columns, f.Column) {
		return nil
	}
	return fmt.Errorf("cannot filter on column %q", f.Column)
}
