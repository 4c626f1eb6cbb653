package changefeed

import (
	"context"

	"github.com/rustyeddy/livedesk/position"
)

// DefaultTable is the table positions are read from and subscribed to.
const DefaultTable = "positions"

// Filter scopes a query to rows whose Column equals Value. The zero Filter
// matches every row.
type Filter struct {
	Column string
	Value  string
}

func (f Filter) IsZero() bool { return f.Column == "" }

// Match reports whether the row is in scope. A row that does not carry the
// filter column at all (a DELETE with only the primary key) matches; the
// applier ignores users it is not tracking.
func (f Filter) Match(r position.Row) bool {
	if f.IsZero() {
		return true
	}
	if _, ok := r[f.Column]; !ok {
		return true
	}
	return r.Text(f.Column) == f.Value
}

// Scope decides what a stream event means to a view scoped by f. Events in
// scope pass through. An UPDATE that moved its row out of scope becomes a
// DELETE of that row, and one whose Old image shows it moved into scope
// becomes an INSERT so a user the view does not hold yet is added. Other
// out-of-scope events report false.
func (f Filter) Scope(ev Event) (Event, bool) {
	if !f.Match(ev.Row()) {
		if ev.Type != Update {
			return Event{}, false
		}
		return Event{Type: Delete, Table: ev.Table, Old: ev.New, CommitTime: ev.CommitTime}, true
	}
	if ev.Type == Update && !f.IsZero() {
		if _, ok := ev.Old[f.Column]; ok && !f.Match(ev.Old) {
			ev.Type = Insert
		}
	}
	return ev, true
}

// Source is the data-access capability a live view depends on.
type Source interface {
	// Snapshot returns every row of table in scope of f, in storage order.
	Snapshot(ctx context.Context, table string, f Filter) ([]position.Row, error)
	// Subscribe starts delivering change events for table.
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// Subscription is a live change stream. Events is closed after Close or when
// the transport fails; Err then reports why.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}
