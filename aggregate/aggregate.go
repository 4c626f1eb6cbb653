// Package aggregate folds position rows into per-user rollups and applies
// change events to them.
//
// A Collection is an immutable value. Build creates one from a snapshot and
// Apply returns the next one for each change event; aggregates for users an
// event does not touch are shared between versions.
package aggregate

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/livedesk/position"
)

// Metrics are derived purely from a user's current positions.
type Metrics struct {
	PnL                decimal.Decimal `json:"PnL"`
	TotalTradesBrought int64           `json:"totalTradesBrought"`
	TotalTradesSold    int64           `json:"totalTradesSold"`
	NetTrades          int64           `json:"netTrades"`
	TotalTradeValue    decimal.Decimal `json:"totalTradeValue"`
}

// Recompute folds every position. It never works from a previous total, so a
// missed event cannot leave the metrics drifting from the positions.
func Recompute(positions []position.Position) Metrics {
	m := Metrics{PnL: decimal.Zero, TotalTradeValue: decimal.Zero}
	for _, p := range positions {
		m.PnL = m.PnL.Add(p.RealizedProfit).Add(p.UnrealizedProfit)
		m.TotalTradeValue = m.TotalTradeValue.Add(p.DayBuyValue)
		m.TotalTradesBrought += p.DayBuyQty
		m.TotalTradesSold += p.DaySellQty
		m.NetTrades += p.DayBuyQty - p.DaySellQty
	}
	return m
}

// Equal compares metrics numerically.
func (m Metrics) Equal(o Metrics) bool {
	return m.PnL.Equal(o.PnL) &&
		m.TotalTradeValue.Equal(o.TotalTradeValue) &&
		m.TotalTradesBrought == o.TotalTradesBrought &&
		m.TotalTradesSold == o.TotalTradesSold &&
		m.NetTrades == o.NetTrades
}

// UserAggregate is one user's rolled-up view.
type UserAggregate struct {
	UserID       string              `json:"user"`
	FirstName    string              `json:"userFirstName"`
	LastName     string              `json:"userLastName"`
	ProfileImage string              `json:"userProfile"`
	MentorID     *string             `json:"mentorId"`
	Balance      decimal.Decimal     `json:"balance"`
	Positions    []position.Position `json:"positions"`
	Metrics
}

func newUserAggregate(o position.Owner) *UserAggregate {
	return &UserAggregate{
		UserID:       o.UserID,
		FirstName:    o.FirstName,
		LastName:     o.LastName,
		ProfileImage: o.ProfileImage,
		MentorID:     o.MentorID,
		Balance:      o.Balance,
	}
}

// DisplayName joins the first and last name.
func (u UserAggregate) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Position looks up a position by security id.
func (u UserAggregate) Position(securityID string) (position.Position, bool) {
	i := u.indexOf(securityID)
	if i < 0 {
		return position.Position{}, false
	}
	return u.Positions[i], true
}

func (u *UserAggregate) indexOf(securityID string) int {
	return slices.IndexFunc(u.Positions, func(p position.Position) bool {
		return p.SecurityID == securityID
	})
}

// upsert replaces the position with the same security id in place or
// appends it.
func (u *UserAggregate) upsert(p position.Position) {
	if i := u.indexOf(p.SecurityID); i >= 0 {
		u.Positions[i] = p
		return
	}
	u.Positions = append(u.Positions, p)
}

func (u *UserAggregate) recompute() {
	u.Metrics = Recompute(u.Positions)
}

// clone copies the aggregate with its own positions slice.
func (u *UserAggregate) clone() *UserAggregate {
	c := *u
	c.Positions = slices.Clone(u.Positions)
	return &c
}

// Summary returns the aggregate without its positions.
func (u UserAggregate) Summary() UserAggregate {
	u.Positions = nil
	return u
}
