package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// InstallSQL is the DDL for a trigger on table that publishes every row
// change on channel as
// {"eventType","table","commit_timestamp","new","old"}. NOTIFY payloads
// are limited to 8000 bytes, which a positions row stays well under.
func InstallSQL(table, channel string) string {
	fn := pgx.Identifier{"livedesk_notify_" + table}.Sanitize()
	trg := pgx.Identifier{"livedesk_" + table + "_notify"}.Sanitize()
	tbl := pgx.Identifier{table}.Sanitize()
	lit := "'" + strings.ReplaceAll(channel, "'", "''") + "'"

	return fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(%[4]s, json_build_object(
		'eventType', TG_OP,
		'table', TG_TABLE_NAME,
		'commit_timestamp', to_char(clock_timestamp() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'),
		'new', CASE WHEN TG_OP = 'DELETE' THEN '{}'::json ELSE row_to_json(NEW) END,
		'old', CASE WHEN TG_OP = 'INSERT' THEN '{}'::json ELSE row_to_json(OLD) END
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS %[2]s ON %[3]s;
CREATE TRIGGER %[2]s
	AFTER INSERT OR UPDATE OR DELETE ON %[3]s
	FOR EACH ROW EXECUTE FUNCTION %[1]s();
`, fn, trg, tbl, lit)
}
