package aggregate

import (
	"fmt"

	"github.com/rustyeddy/livedesk/position"
)

// Build groups snapshot rows by user. The first row seen for a user seeds
// the user-level fields; later rows only contribute positions. A repeated
// security id for the same user replaces the earlier position. Metrics are
// computed once every row has been folded.
//
// The first malformed row stops the build and is returned wrapped with its
// index.
func Build(rows []position.Row) (Collection, error) {
	var b builder
	for i, r := range rows {
		if err := b.add(r); err != nil {
			return Collection{}, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return b.finish(), nil
}

// BuildLenient is Build that skips malformed rows, reporting each one to
// onErr (which may be nil) and carrying on with the rest.
func BuildLenient(rows []position.Row, onErr func(i int, r position.Row, err error)) Collection {
	var b builder
	for i, r := range rows {
		if err := b.add(r); err != nil && onErr != nil {
			onErr(i, r, err)
		}
	}
	return b.finish()
}

type builder struct {
	users []*UserAggregate
	index map[string]int
}

func (b *builder) add(r position.Row) error {
	p, err := position.FromRow(r)
	if err != nil {
		return err
	}
	if b.index == nil {
		b.index = make(map[string]int)
	}
	i, ok := b.index[p.UserID]
	if !ok {
		b.users = append(b.users, newUserAggregate(position.OwnerFromRow(r)))
		i = len(b.users) - 1
		b.index[p.UserID] = i
	}
	b.users[i].upsert(p)
	return nil
}

func (b *builder) finish() Collection {
	for _, u := range b.users {
		u.recompute()
	}
	return Collection{users: b.users, index: b.index}
}
