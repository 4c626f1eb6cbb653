package journal

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/livedesk/aggregate"
)

// FormatAggregateOrg renders one user's aggregate as an Org block: the
// metrics go in a PROPERTIES drawer, the positions in a table.
func FormatAggregateOrg(u aggregate.UserAggregate) string {
	name := u.DisplayName()
	if name == "" {
		name = u.UserID
	}
	mentor := "-"
	if u.MentorID != nil {
		mentor = *u.MentorID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "** User: %s (%s)\n", name, shortID(u.UserID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":USER_ID: %s\n", u.UserID)
	fmt.Fprintf(&b, ":ID: %s\n", u.UserID)
	fmt.Fprintf(&b, ":MENTOR_ID: %s\n", mentor)
	fmt.Fprintf(&b, ":BALANCE: %s\n", u.Balance.StringFixed(2))
	fmt.Fprintf(&b, ":PNL: %s\n", u.PnL.StringFixed(2))
	fmt.Fprintf(&b, ":TOTAL_TRADE_VALUE: %s\n", u.TotalTradeValue.StringFixed(2))
	fmt.Fprintf(&b, ":TRADES_BOUGHT: %d\n", u.TotalTradesBrought)
	fmt.Fprintf(&b, ":TRADES_SOLD: %d\n", u.TotalTradesSold)
	fmt.Fprintf(&b, ":NET_TRADES: %d\n", u.NetTrades)
	fmt.Fprintf(&b, ":POSITIONS: %d\n", len(u.Positions))
	b.WriteString(":END:\n")

	if len(u.Positions) == 0 {
		return b.String()
	}

	b.WriteString("\n| Symbol | Security | Type | Segment | Product | Net Qty | Realized | Unrealized | Day Buy Value |\n")
	b.WriteString("|--------+----------+------+---------+---------+---------+----------+------------+---------------|\n")
	for _, p := range u.Positions {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d | %s | %s | %s |\n",
			p.TradingSymbol,
			p.SecurityID,
			p.PositionType,
			p.ExchangeSegment,
			p.ProductType,
			p.NetQty,
			p.RealizedProfit.StringFixed(2),
			p.UnrealizedProfit.StringFixed(2),
			p.DayBuyValue.StringFixed(2),
		)
	}
	return b.String()
}

// FormatAggregatesOrg renders every aggregate in collection order,
// separated by blank lines.
func FormatAggregatesOrg(c aggregate.Collection) string {
	var b strings.Builder
	for i, u := range c.Users() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatAggregateOrg(u))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
