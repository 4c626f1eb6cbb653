package journal

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/livedesk/position"
)

// Money columns are TEXT so decimals survive exactly.
var columnDecl = map[string]string{
	position.ColUserID:                "TEXT NOT NULL",
	position.ColDhanClientID:          "TEXT NOT NULL DEFAULT ''",
	position.ColTradingSymbol:         "TEXT NOT NULL DEFAULT ''",
	position.ColSecurityID:            "TEXT NOT NULL",
	position.ColPositionType:          "TEXT NOT NULL DEFAULT ''",
	position.ColExchangeSegment:       "TEXT NOT NULL DEFAULT ''",
	position.ColProductType:           "TEXT NOT NULL DEFAULT ''",
	position.ColBuyAvg:                "TEXT NOT NULL DEFAULT '0'",
	position.ColBuyQty:                "INTEGER NOT NULL DEFAULT 0",
	position.ColCostPrice:             "TEXT NOT NULL DEFAULT '0'",
	position.ColSellAvg:               "TEXT NOT NULL DEFAULT '0'",
	position.ColSellQty:               "INTEGER NOT NULL DEFAULT 0",
	position.ColNetQty:                "INTEGER NOT NULL DEFAULT 0",
	position.ColRealizedProfit:        "TEXT NOT NULL DEFAULT '0'",
	position.ColUnrealizedProfit:      "TEXT NOT NULL DEFAULT '0'",
	position.ColRBIReferenceRate:      "TEXT NOT NULL DEFAULT '0'",
	position.ColMultiplier:            "INTEGER NOT NULL DEFAULT 0",
	position.ColCarryForwardBuyQty:    "INTEGER NOT NULL DEFAULT 0",
	position.ColCarryForwardSellQty:   "INTEGER NOT NULL DEFAULT 0",
	position.ColCarryForwardBuyValue:  "TEXT NOT NULL DEFAULT '0'",
	position.ColCarryForwardSellValue: "TEXT NOT NULL DEFAULT '0'",
	position.ColDayBuyQty:             "INTEGER NOT NULL DEFAULT 0",
	position.ColDaySellQty:            "INTEGER NOT NULL DEFAULT 0",
	position.ColDayBuyValue:           "TEXT NOT NULL DEFAULT '0'",
	position.ColDaySellValue:          "TEXT NOT NULL DEFAULT '0'",
	position.ColDrvExpiryDate:         "TEXT",
	position.ColDrvOptionType:         "TEXT",
	position.ColDrvStrikePrice:        "TEXT",
	position.ColCrossCurrency:         "INTEGER NOT NULL DEFAULT 0",
	position.ColFirstName:             "TEXT NOT NULL DEFAULT ''",
	position.ColLastName:              "TEXT NOT NULL DEFAULT ''",
	position.ColProfileImage:          "TEXT",
	position.ColMentorID:              "TEXT",
	position.ColBalance:               "TEXT NOT NULL DEFAULT '0'",
}

// Schema creates the positions table, the change log and the triggers that
// feed it. Each change row holds the full realtime payload as JSON.
var Schema = buildSchema()

func buildSchema() string {
	var b strings.Builder

	b.WriteString("CREATE TABLE IF NOT EXISTS positions (\n")
	for _, col := range position.Columns {
		fmt.Fprintf(&b, "\t%s %s,\n", col, columnDecl[col])
	}
	b.WriteString("\tPRIMARY KEY (user_id, security_id)\n);\n\n")

	b.WriteString(`CREATE INDEX IF NOT EXISTS idx_positions_mentor ON positions(mentor_id);

CREATE TABLE IF NOT EXISTS position_changes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	security_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_position_changes_created ON position_changes(created_at);
`)

	b.WriteString(trigger("INSERT", "NEW", "new", "old"))
	b.WriteString(trigger("UPDATE", "NEW", "new", "old"))
	b.WriteString(trigger("DELETE", "OLD", "old", "new"))
	return b.String()
}

// trigger emits one change row per write. For UPDATE the old image is the
// previous row, like a replica identity FULL table.
func trigger(op, ref, key, otherKey string) string {
	other := "json_object()"
	if op == "UPDATE" {
		other = rowObject("OLD")
	}
	return fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS positions_%s AFTER %s ON positions
BEGIN
	INSERT INTO position_changes (event_type, user_id, security_id, payload)
	VALUES ('%s', %s.user_id, %s.security_id, json_object(
		'eventType', '%s',
		'table', 'positions',
		'commit_timestamp', strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'),
		'%s', %s,
		'%s', %s
	));
END;
`, strings.ToLower(op), op, op, ref, ref, op, key, rowObject(ref), otherKey, other)
}

func rowObject(ref string) string {
	parts := make([]string, 0, 2*len(position.Columns))
	for _, col := range position.Columns {
		parts = append(parts, fmt.Sprintf("'%s', %s.%s", col, ref, col))
	}
	return "json_object(" + strings.Join(parts, ", ") + ")"
}
