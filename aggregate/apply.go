package aggregate

import (
	"fmt"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

// Apply returns the collection that results from one change event. c is
// never modified; only the affected user's aggregate is rebuilt and every
// other aggregate is shared with c.
//
//   - INSERT for an unknown user creates its aggregate from the row, exactly
//     as Build would for a one-row snapshot.
//   - UPDATE or DELETE for an unknown user returns c unchanged.
//   - INSERT and UPDATE replace the position with the same security id, or
//     append it.
//   - DELETE removes the position; a user left with no positions is removed.
//
// A malformed row returns c and a *position.MalformedRowError; callers drop
// the event and carry on.
func Apply(c Collection, ev changefeed.Event) (Collection, error) {
	switch ev.Type {
	case changefeed.Insert, changefeed.Update, changefeed.Delete:
	default:
		return c, fmt.Errorf("%w: %q", changefeed.ErrUnknownEventType, ev.Type)
	}

	row := ev.Row()
	p, err := position.FromRow(row)
	if err != nil {
		return c, fmt.Errorf("%s event: %w", ev.Type, err)
	}

	cur := c.get(p.UserID)
	if cur == nil {
		if ev.Type != changefeed.Insert {
			return c, nil
		}
		u := newUserAggregate(position.OwnerFromRow(row))
		u.Positions = []position.Position{p}
		u.recompute()
		return c.with(u), nil
	}

	switch ev.Type {
	case changefeed.Insert, changefeed.Update:
		next := cur.clone()
		next.upsert(p)
		next.recompute()
		return c.with(next), nil
	}

	// DELETE
	i := cur.indexOf(p.SecurityID)
	if i < 0 {
		return c, nil
	}
	if len(cur.Positions) == 1 {
		return c.without(p.UserID), nil
	}
	next := cur.clone()
	next.Positions = append(next.Positions[:i], next.Positions[i+1:]...)
	next.recompute()
	return c.with(next), nil
}
