package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/livedesk/changefeed"
)

const positionsCSV = `user_id,security_id,mentor_id,user_firstname,trading_symbol,realized_profit,unrealized_profit,day_buy_qty,day_sell_qty,day_buy_value
A,S1,m1,Asha,RELIANCE,100,-20,5,2,500
A,S2,m1,Asha,TCS,0,30,1,0,50
B,S1,m2,Ben,RELIANCE,7,,,,
`

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, viewerID, viewerRole, logLevel = "", "", "", ""
	snapshotFormat, snapshotPositions = formatTable, false
	positionsDB, positionsOut, positionsAfter, positionsPrint = "", "", 0, false
	replaySnapshot, replayEvents, replayCompare = "", "", ""
	replayVerify, replayStrict, replayFormat = false, false, formatTable

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

// setup writes a config pointing at a fresh journal and imports the
// sample positions.
func setup(t *testing.T) (dir, cfgPath string) {
	t.Helper()

	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "livedesk.yaml")
	cfg := "source:\n  type: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "live.db") + "\nviewer:\n  role: admin\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	csvPath := filepath.Join(dir, "positions.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(positionsCSV), 0o644))

	out, err := execute(t, "-c", cfgPath, "positions", "import", csvPath)
	require.NoError(t, err)
	assert.Equal(t, "imported 3 positions\n", out)
	return dir, cfgPath
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "livedesk version "+version+"\n", out)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desk.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Source: sqlite (table positions)")

	require.NoError(t, os.WriteFile(path, []byte("source:\n  type: kafka\n"), 0o644))
	_, err = execute(t, "config", "validate", "-f", path)
	assert.ErrorContains(t, err, "source.type")
}

func TestSnapshotJSON(t *testing.T) {
	_, cfgPath := setup(t)

	out, err := execute(t, "-c", cfgPath, "--role", "mentor", "--viewer", "m1", "snapshot", "--format", "json")
	require.NoError(t, err)

	var users []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "A", users[0]["user"])
	assert.Equal(t, 110.0, users[0]["PnL"])
	assert.Equal(t, 550.0, users[0]["totalTradeValue"])
	assert.Nil(t, users[0]["positions"])
}

func TestSnapshotTableAndUser(t *testing.T) {
	_, cfgPath := setup(t)

	out, err := execute(t, "-c", cfgPath, "snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "Asha")
	assert.Contains(t, out, "110.00")
	assert.Contains(t, out, "2 users")

	out, err = execute(t, "-c", cfgPath, "snapshot", "A", "--format", "org")
	require.NoError(t, err)
	assert.Contains(t, out, "** User: Asha")
	assert.Contains(t, out, "TCS")
	assert.NotContains(t, out, "Ben")

	_, err = execute(t, "-c", cfgPath, "snapshot", "Z")
	assert.ErrorContains(t, err, "user Z not in view")
}

func TestPositionsWriteCommands(t *testing.T) {
	_, cfgPath := setup(t)

	out, err := execute(t, "-c", cfgPath, "positions", "upsert", `{"user_id":"C","security_id":"S9","realized_profit":1.25}`)
	require.NoError(t, err)
	assert.Equal(t, "upserted C/S9\n", out)

	_, err = execute(t, "-c", cfgPath, "positions", "upsert", `{"user_id":"C"}`)
	assert.Error(t, err)

	out, err = execute(t, "-c", cfgPath, "positions", "delete", "A", "S2")
	require.NoError(t, err)
	assert.Equal(t, "deleted A/S2\n", out)

	_, err = execute(t, "-c", cfgPath, "positions", "delete", "A", "S2")
	assert.ErrorContains(t, err, "no position A/S2")

	out, err = execute(t, "-c", cfgPath, "positions", "delete", "B")
	require.NoError(t, err)
	assert.Equal(t, "deleted 1 positions of B\n", out)

	out, err = execute(t, "-c", cfgPath, "positions", "changes")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)

	var types []changefeed.EventType
	for _, l := range lines {
		ev, err := changefeed.ParseEvent([]byte(l))
		require.NoError(t, err)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []changefeed.EventType{
		changefeed.Insert, changefeed.Insert, changefeed.Insert,
		changefeed.Insert, changefeed.Delete, changefeed.Delete,
	}, types)

	out, err = execute(t, "-c", cfgPath, "--role", "user", "--viewer", "A", "positions", "export")
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, rows, 2)
	assert.True(t, strings.HasPrefix(rows[1], "A,"))
}

func TestPositionsInstallPrint(t *testing.T) {
	out, err := execute(t, "positions", "install", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "pg_notify")
	assert.Contains(t, out, "livedesk_positions")
}

func TestReplayCompare(t *testing.T) {
	dir, cfgPath := setup(t)

	snap := filepath.Join(dir, "positions.csv")
	events := filepath.Join(dir, "changes.jsonl")
	later := filepath.Join(dir, "later.csv")

	changes := `{"eventType":"DELETE","table":"positions","old":{"user_id":"B","security_id":"S1"}}
{"eventType":"UPDATE","table":"positions","new":{"user_id":"A","security_id":"S2","mentor_id":"m1","unrealized_profit":40,"day_buy_qty":1,"day_buy_value":50}}
`
	require.NoError(t, os.WriteFile(events, []byte(changes), 0o644))
	require.NoError(t, os.WriteFile(later, []byte(`user_id,security_id,realized_profit,unrealized_profit,day_buy_qty,day_sell_qty,day_buy_value
A,S1,100,-20,5,2,500
A,S2,0,40,1,0,50
`), 0o644))

	out, err := execute(t, "-c", cfgPath, "replay", "-s", snap, "-e", events, "--verify", "--compare", later)
	require.NoError(t, err)
	assert.Contains(t, out, "applied=2")
	assert.Contains(t, out, "matches "+later)

	_, err = execute(t, "-c", cfgPath, "replay", "-s", snap, "--compare", later)
	assert.ErrorContains(t, err, "2 users differ")
}
