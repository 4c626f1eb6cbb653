package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/livedesk/aggregate"
	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

const snapshotJSON = `[
  {"user_id": "A", "security_id": "S1", "mentor_id": "m1", "realized_profit": 100, "unrealized_profit": -20,
   "day_buy_qty": 5, "day_sell_qty": 2, "day_buy_value": 500},
  {"user_id": "A", "security_id": "S2", "mentor_id": "m1", "unrealized_profit": 30, "day_buy_qty": 1, "day_buy_value": 50},
  {"user_id": "B", "security_id": "S1", "mentor_id": "m2", "realized_profit": "7.25"}
]`

const snapshotCSV = `user_id,security_id,mentor_id,realized_profit,unrealized_profit,day_buy_qty,day_sell_qty,day_buy_value
A,S1,m1,100,-20,5,2,500
A,S2,m1,0,30,1,0,50
B,S1,m2,7.25,,,,
`

func loadJSON(t *testing.T) []position.Row {
	t.Helper()
	rows, err := LoadSnapshot(strings.NewReader(snapshotJSON))
	require.NoError(t, err)
	return rows
}

func metricsOf(t *testing.T, c aggregate.Collection, user string) aggregate.Metrics {
	t.Helper()
	u, ok := c.Lookup(user)
	require.True(t, ok, "user %s", user)
	return u.Metrics
}

func TestRunWorkedExample(t *testing.T) {
	t.Parallel()

	events := `
# A sells out of S1
{"eventType":"DELETE","table":"positions","old":{"user_id":"A","security_id":"S1"}}

`
	rep, err := Run(context.Background(), loadJSON(t), strings.NewReader(events), Options{Verify: true})
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 1, rep.Events)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 2, rep.Users)

	m := metricsOf(t, rep.Final, "A")
	assert.Equal(t, "30", m.PnL.String())
	assert.Equal(t, "50", m.TotalTradeValue.String())
	assert.EqualValues(t, 1, m.TotalTradesBrought)
	assert.EqualValues(t, 0, m.TotalTradesSold)
	assert.EqualValues(t, 1, m.NetTrades)
}

func TestRunSkipsBadEvents(t *testing.T) {
	t.Parallel()

	events := strings.Join([]string{
		`{"eventType":"UPSERT","new":{"user_id":"A","security_id":"S3"}}`,
		`not json`,
		`{"eventType":"INSERT","new":{"user_id":"A","security_id":"S3","day_buy_qty":"lots"}}`,
		`{"eventType":"INSERT","new":{"user_id":"A","security_id":"S3","day_buy_qty":2,"day_buy_value":20}}`,
	}, "\n")

	rep, err := Run(context.Background(), loadJSON(t), strings.NewReader(events), Options{Verify: true})
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Events)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 3, rep.Skipped)
	require.Len(t, rep.Errors, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{rep.Errors[0].Line, rep.Errors[1].Line, rep.Errors[2].Line})
	assert.ErrorIs(t, rep.Errors[0], changefeed.ErrUnknownEventType)

	var mre *position.MalformedRowError
	assert.ErrorAs(t, rep.Errors[2], &mre)

	assert.EqualValues(t, 3, metricsOf(t, rep.Final, "A").TotalTradesBrought)
}

func TestRunStrict(t *testing.T) {
	t.Parallel()

	events := "{\"eventType\":\"DELETE\",\"old\":{\"user_id\":\"A\",\"security_id\":\"S1\"}}\n\nnot json\n"
	_, err := Run(context.Background(), loadJSON(t), strings.NewReader(events), Options{Strict: true})

	var le *LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 3, le.Line)
}

func TestRunScopedToViewer(t *testing.T) {
	t.Parallel()

	events := strings.Join([]string{
		// out of scope: ignored
		`{"eventType":"INSERT","new":{"user_id":"C","security_id":"S1","mentor_id":"m2"}}`,
		// A moves to another mentor: removed
		`{"eventType":"UPDATE","new":{"user_id":"A","security_id":"S2","mentor_id":"m2"},"old":{"user_id":"A","security_id":"S2"}}`,
		`{"eventType":"INSERT","new":{"user_id":"D","security_id":"S9","mentor_id":"m1","realized_profit":5}}`,
	}, "\n")

	opts := Options{Filter: changefeed.Filter{Column: position.ColMentorID, Value: "m1"}, Verify: true}
	rep, err := Run(context.Background(), loadJSON(t), strings.NewReader(events), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Rows)
	assert.Equal(t, 1, rep.Filtered)
	assert.Equal(t, 2, rep.Applied)
	assert.Equal(t, []string{"A", "D"}, rep.Final.UserIDs())

	a, _ := rep.Final.Lookup("A")
	require.Len(t, a.Positions, 1)
	assert.Equal(t, "S1", a.Positions[0].SecurityID)
}

func TestRunTableFilter(t *testing.T) {
	t.Parallel()

	events := `{"eventType":"DELETE","table":"orders","old":{"user_id":"A","security_id":"S1"}}`
	rep, err := Run(context.Background(), loadJSON(t), strings.NewReader(events), Options{Table: "positions"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Filtered)
	assert.Equal(t, 0, rep.Applied)
}

func TestRunMalformedSnapshot(t *testing.T) {
	t.Parallel()

	rows := []position.Row{{"user_id": "A"}}
	_, err := Run(context.Background(), rows, strings.NewReader(""), Options{})
	assert.ErrorContains(t, err, "build snapshot")
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, loadJSON(t), strings.NewReader(`{"eventType":"DELETE","old":{"user_id":"A","security_id":"S1"}}`), Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadSnapshotFormats(t *testing.T) {
	t.Parallel()

	fromJSON, err := aggregate.Build(loadJSON(t))
	require.NoError(t, err)

	rows, err := LoadSnapshot(strings.NewReader(snapshotCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	fromCSV, err := aggregate.Build(rows)
	require.NoError(t, err)

	assert.Empty(t, Diff(fromCSV, fromJSON))

	rows, err = LoadSnapshot(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = LoadSnapshot(strings.NewReader("[{"))
	assert.ErrorContains(t, err, "decode snapshot")
}

func TestFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	snap := filepath.Join(dir, "snapshot.csv")
	events := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(snap, []byte(snapshotCSV), 0o644))
	require.NoError(t, os.WriteFile(events, []byte(`{"eventType":"DELETE","old":{"user_id":"B","security_id":"S1"}}`+"\n"), 0o644))

	rep, err := Files(context.Background(), snap, events, Options{Verify: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rep.Final.UserIDs())

	rep, err = Files(context.Background(), snap, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Users)

	_, err = Files(context.Background(), filepath.Join(dir, "missing.json"), "", Options{})
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	want, err := aggregate.Build(loadJSON(t))
	require.NoError(t, err)

	// same positions in another order
	rows := loadJSON(t)
	rows[0], rows[1] = rows[1], rows[0]
	reordered, err := aggregate.Build(rows)
	require.NoError(t, err)
	assert.Empty(t, Diff(reordered, want))

	got, err := aggregate.Apply(want, changefeed.Event{
		Type: changefeed.Insert,
		New:  position.Row{"user_id": "C", "security_id": "S1"},
	})
	require.NoError(t, err)
	got, err = aggregate.Apply(got, changefeed.Event{
		Type: changefeed.Delete,
		Old:  position.Row{"user_id": "B", "security_id": "S1"},
	})
	require.NoError(t, err)
	got, err = aggregate.Apply(got, changefeed.Event{
		Type: changefeed.Update,
		New:  position.Row{"user_id": "A", "security_id": "S2", "unrealized_profit": 31, "day_buy_qty": 1, "day_buy_value": 50},
	})
	require.NoError(t, err)

	diff := Diff(got, want)
	require.Len(t, diff, 3)
	assert.Contains(t, diff[0], "A: PnL 111 want 110")
	assert.Equal(t, "B: missing", diff[1])
	assert.Equal(t, "C: unexpected", diff[2])
}
