package journal

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/position"
)

const importCSV = `user_id,security_id,trading_symbol,realized_profit,unrealized_profit,day_buy_qty,day_sell_qty,day_buy_value,mentor_id,notes
A,S1,RELIANCE,100,-20,5,2,500,m1,ignored
A,S2,TCS,0,30,1,0,50,m1,
B,S1,INFY,1.5,,,,,,
`

func TestImportCSV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)

	n, err := j.ImportCSV(ctx, strings.NewReader(importCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := j.Snapshot(ctx, Table, changefeed.Filter{Column: "mentor_id", Value: "m1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	p, err := position.FromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE", p.TradingSymbol)
	assert.Equal(t, int64(5), p.DayBuyQty)

	b, err := j.Get(ctx, "B", "S1")
	require.NoError(t, err)
	assert.Nil(t, b["mentor_id"])
}

func TestImportCSVErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "read csv header"},
		{"no identity columns", "user_id,trading_symbol\nA,X\n", "csv header needs"},
		{"bad quantity", "user_id,security_id,day_buy_qty\nA,S1,1\nA,S2,abc\n", "csv line 3"},
		{"missing security", "user_id,security_id\nA,\n", "csv line 2"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, _ := newTestSQLite(t)

			_, err := j.ImportCSV(ctx, strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			rows, err := j.Snapshot(ctx, Table, changefeed.Filter{})
			require.NoError(t, err)
			assert.Empty(t, rows, "import is all or nothing")
		})
	}
}

func TestExportCSV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	_, err := j.ImportCSV(ctx, strings.NewReader(importCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := j.ExportCSV(ctx, &buf, changefeed.Filter{Column: "user_id", Value: "A"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, position.Columns, records[0])

	idx := func(col string) int {
		for i, c := range records[0] {
			if c == col {
				return i
			}
		}
		t.Fatalf("no column %s", col)
		return -1
	}
	assert.Equal(t, "S1", records[1][idx("security_id")])
	assert.Equal(t, "-20", records[1][idx("unrealized_profit")])
	assert.Equal(t, "m1", records[2][idx("mentor_id")])
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, _ := newTestSQLite(t)
	_, err := src.ImportCSV(ctx, strings.NewReader(importCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = src.ExportCSV(ctx, &buf, changefeed.Filter{})
	require.NoError(t, err)

	dst, _ := newTestSQLite(t)
	n, err := dst.ImportCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want, err := src.Snapshot(ctx, Table, changefeed.Filter{})
	require.NoError(t, err)
	got, err := dst.Snapshot(ctx, Table, changefeed.Filter{})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExportChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	j.batch = 2
	_, err := j.ImportCSV(ctx, strings.NewReader(importCSV))
	require.NoError(t, err)
	_, err = j.Delete(ctx, "B", "S1")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := j.ExportChanges(ctx, &buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	last, err := changefeed.ParseEvent([]byte(lines[3]))
	require.NoError(t, err)
	assert.Equal(t, changefeed.Delete, last.Type)
	assert.Equal(t, "B", last.Old.Text("user_id"))
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	rows, err := ReadCSV(strings.NewReader("User_ID, security_id ,notes,day_buy_qty\nA,S1,hi,5\nB,S2,,\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, position.Row{"user_id": "A", "security_id": "S1", "day_buy_qty": "5"}, rows[0])
	assert.Equal(t, position.Row{"user_id": "B", "security_id": "S2"}, rows[1])

	rows, err = ReadCSV(strings.NewReader("user_id,security_id\n"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
