package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rustyeddy/livedesk/aggregate"
	"github.com/rustyeddy/livedesk/journal"
)

// output formats for collections
const (
	formatTable = "table"
	formatJSON  = "json"
	formatOrg   = "org"
)

func printCollection(w io.Writer, c aggregate.Collection, format string, withPositions bool) error {
	switch format {
	case formatJSON:
		users := c.Summaries()
		if withPositions {
			users = c.Users()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	case formatOrg:
		if withPositions {
			_, err := io.WriteString(w, journal.FormatAggregatesOrg(c))
			return err
		}
		for _, u := range c.Summaries() {
			if _, err := io.WriteString(w, journal.FormatAggregateOrg(u)+"\n"); err != nil {
				return err
			}
		}
		return nil
	case formatTable, "":
		return printTable(w, c, withPositions)
	}
	return fmt.Errorf("unknown format %q (want table, json or org)", format)
}

func printTable(w io.Writer, c aggregate.Collection, withPositions bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "USER\tNAME\tMENTOR\tPNL\tTRADE VALUE\tBOUGHT\tSOLD\tNET\tPOSITIONS\t")
	for _, u := range c.Users() {
		mentor := "-"
		if u.MentorID != nil {
			mentor = *u.MentorID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t\n",
			u.UserID, u.DisplayName(), mentor,
			u.PnL.StringFixed(2), u.TotalTradeValue.StringFixed(2),
			u.TotalTradesBrought, u.TotalTradesSold, u.NetTrades, len(u.Positions))
		if withPositions {
			for _, p := range u.Positions {
				fmt.Fprintf(tw, "\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t\t\n",
					p.TradingSymbol, p.SecurityID,
					p.TotalProfit().StringFixed(2), p.DayBuyValue.StringFixed(2),
					p.DayBuyQty, p.DaySellQty, p.NetQty)
			}
		}
	}
	fmt.Fprintf(tw, "\t%d users\t\t\t\t\t\t\t%d\t\n", c.Len(), c.PositionCount())
	return tw.Flush()
}
