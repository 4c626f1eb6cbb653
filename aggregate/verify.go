package aggregate

import (
	"fmt"
)

// Verify checks the collection invariants: one aggregate per user, no empty
// aggregates, unique security ids per user, and metrics equal to a fresh
// fold of the positions.
func Verify(c Collection) error {
	if len(c.index) != len(c.users) {
		return fmt.Errorf("index has %d users, collection has %d", len(c.index), len(c.users))
	}
	for i, u := range c.users {
		if j, ok := c.index[u.UserID]; !ok || j != i {
			return fmt.Errorf("user %q: index out of sync", u.UserID)
		}
		if len(u.Positions) == 0 {
			return fmt.Errorf("user %q: empty aggregate", u.UserID)
		}
		seen := make(map[string]bool, len(u.Positions))
		for _, p := range u.Positions {
			if p.UserID != u.UserID {
				return fmt.Errorf("user %q: holds position of %q", u.UserID, p.UserID)
			}
			if seen[p.SecurityID] {
				return fmt.Errorf("user %q: duplicate security %q", u.UserID, p.SecurityID)
			}
			seen[p.SecurityID] = true
		}
		if want := Recompute(u.Positions); !u.Metrics.Equal(want) {
			return fmt.Errorf("user %q: metrics %+v, want %+v", u.UserID, u.Metrics, want)
		}
	}
	return nil
}
