package aggregate

import (
	"slices"
)

// Collection holds one UserAggregate per user in first-appearance order.
// The zero value is an empty collection. Aggregates reachable from a
// Collection are never modified after it is returned.
type Collection struct {
	users []*UserAggregate
	index map[string]int
}

func (c Collection) Len() int { return len(c.users) }

// Lookup returns a copy of one user's aggregate.
func (c Collection) Lookup(userID string) (UserAggregate, bool) {
	u := c.get(userID)
	if u == nil {
		return UserAggregate{}, false
	}
	out := *u
	out.Positions = slices.Clone(u.Positions)
	return out, true
}

// Users returns copies of every aggregate in collection order.
func (c Collection) Users() []UserAggregate {
	out := make([]UserAggregate, len(c.users))
	for i, u := range c.users {
		out[i] = *u
		out[i].Positions = slices.Clone(u.Positions)
	}
	return out
}

// Summaries returns every aggregate without positions.
func (c Collection) Summaries() []UserAggregate {
	out := make([]UserAggregate, len(c.users))
	for i, u := range c.users {
		out[i] = u.Summary()
	}
	return out
}

// UserIDs returns the user ids in collection order.
func (c Collection) UserIDs() []string {
	out := make([]string, len(c.users))
	for i, u := range c.users {
		out[i] = u.UserID
	}
	return out
}

// PositionCount is the number of positions across all users.
func (c Collection) PositionCount() int {
	n := 0
	for _, u := range c.users {
		n += len(u.Positions)
	}
	return n
}

func (c Collection) get(userID string) *UserAggregate {
	i, ok := c.index[userID]
	if !ok {
		return nil
	}
	return c.users[i]
}

// with returns a new collection where u replaces the aggregate of the same
// user, or is appended when the user is new.
func (c Collection) with(u *UserAggregate) Collection {
	users := slices.Clone(c.users)
	if i, ok := c.index[u.UserID]; ok {
		users[i] = u
		return Collection{users: users, index: c.index}
	}
	users = append(users, u)
	index := cloneIndex(c.index, 1)
	index[u.UserID] = len(users) - 1
	return Collection{users: users, index: index}
}

// without returns a new collection with userID removed.
func (c Collection) without(userID string) Collection {
	i, ok := c.index[userID]
	if !ok {
		return c
	}
	users := slices.Delete(slices.Clone(c.users), i, i+1)
	index := make(map[string]int, len(users))
	for j, u := range users {
		index[u.UserID] = j
	}
	return Collection{users: users, index: index}
}

func cloneIndex(m map[string]int, extra int) map[string]int {
	out := make(map[string]int, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
