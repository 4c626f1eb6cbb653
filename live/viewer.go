package live

import (
	"strings"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

// Role is the viewer's place in the mentor hierarchy. Any value other than
// RoleMentor or RoleAdmin is treated as a plain user.
type Role string

const (
	RoleUser   Role = "user"
	RoleMentor Role = "mentor"
	RoleAdmin  Role = "admin"
)

// ParseRole normalises a role name.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Viewer identifies who is looking at the dashboard. It is trusted input.
type Viewer struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Filter scopes rows to what the viewer may see: a mentor sees their
// mentees, an admin sees everyone, anyone else sees their own rows.
func (v Viewer) Filter() changefeed.Filter {
	switch v.Role {
	case RoleAdmin:
		return changefeed.Filter{}
	case RoleMentor:
		return changefeed.Filter{Column: position.ColMentorID, Value: v.ID}
	}
	return changefeed.Filter{Column: position.ColUserID, Value: v.ID}
}
