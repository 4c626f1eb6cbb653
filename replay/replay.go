// Package replay folds a recorded snapshot and change log through the
// aggregation engine offline. It is how captured sessions are checked for
// drift and how new event sources are tried out before going live.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/livedesk/aggregate"
	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/journal"
	"github.com/rustyeddy/livedesk/position"
)

// maxLine bounds one JSONL event.
const maxLine = 4 << 20

// Options controls how replay behaves.
type Options struct {
	// Filter scopes the replay the way a viewer's live view is scoped:
	// snapshot rows outside it are dropped and stream events go through
	// Filter.Scope.
	Filter changefeed.Filter
	// Table drops events for other tables. Empty accepts all.
	Table string
	// Verify checks the collection invariants after every applied event.
	Verify bool
	// Strict stops at the first event that does not parse or apply.
	Strict bool
	Log    zerolog.Logger
}

// LineError is an event line that was skipped.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Report summarises a replay.
type Report struct {
	Rows     int `json:"rows"`
	Users    int `json:"users"`
	Events   int `json:"events"`
	Applied  int `json:"applied"`
	Filtered int `json:"filtered"`
	Skipped  int `json:"skipped"`

	Errors []*LineError          `json:"-"`
	Final  aggregate.Collection `json:"-"`
}

// LoadSnapshot reads snapshot rows as a JSON array of objects or, when the
// input does not start with '[', as CSV with a header.
func LoadSnapshot(r io.Reader) ([]position.Row, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
			continue
		case '[':
			dec := json.NewDecoder(br)
			dec.UseNumber()
			var rows []position.Row
			if err := dec.Decode(&rows); err != nil {
				return nil, fmt.Errorf("decode snapshot: %w", err)
			}
			return rows, nil
		}
		return journal.ReadCSV(br)
	}
}

// Run builds the collection from snapshot and applies every event read
// from events, one JSON payload per line. Blank lines and lines starting
// with '#' are ignored.
//
// A malformed snapshot row is always fatal. Bad events are skipped and
// recorded unless opts.Strict is set. A Verify failure is always fatal.
func Run(ctx context.Context, snapshot []position.Row, events io.Reader, opts Options) (*Report, error) {
	log := logging.Component(opts.Log, "replay")

	scoped := snapshot[:0:0]
	for _, r := range snapshot {
		if opts.Filter.Match(r) {
			scoped = append(scoped, r)
		}
	}

	coll, err := aggregate.Build(scoped)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	if opts.Verify {
		if err := aggregate.Verify(coll); err != nil {
			return nil, fmt.Errorf("verify snapshot: %w", err)
		}
	}

	rep := &Report{Rows: len(scoped)}
	log.Info().Int("rows", rep.Rows).Int("users", coll.Len()).Msg("snapshot built")

	sc := bufio.NewScanner(events)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		rep.Events++

		ev, err := changefeed.ParseEvent(b)
		if err == nil && opts.Table != "" && ev.Table != "" && ev.Table != opts.Table {
			rep.Filtered++
			continue
		}

		var next aggregate.Collection
		if err == nil {
			var ok bool
			if ev, ok = opts.Filter.Scope(ev); !ok {
				rep.Filtered++
				continue
			}
			next, err = aggregate.Apply(coll, ev)
		}
		if err != nil {
			le := &LineError{Line: line, Err: err}
			if opts.Strict {
				return nil, le
			}
			rep.Skipped++
			rep.Errors = append(rep.Errors, le)
			log.Warn().Err(err).Int("line", line).Msg("skipping event")
			continue
		}

		coll = next
		rep.Applied++

		if opts.Verify {
			if err := aggregate.Verify(coll); err != nil {
				return nil, fmt.Errorf("verify after line %d: %w", line, err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	rep.Final = coll
	rep.Users = coll.Len()
	log.Info().
		Int("events", rep.Events).
		Int("applied", rep.Applied).
		Int("skipped", rep.Skipped).
		Int("users", rep.Users).
		Msg("replay finished")
	return rep, nil
}

// Files replays a snapshot file (JSON or CSV) and a JSONL events file. An
// empty eventsPath replays the snapshot alone.
func Files(ctx context.Context, snapshotPath, eventsPath string, opts Options) (*Report, error) {
	f, err := os.Open(snapshotPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := LoadSnapshot(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", snapshotPath, err)
	}

	var events io.Reader = strings.NewReader("")
	if eventsPath != "" {
		ef, err := os.Open(eventsPath)
		if err != nil {
			return nil, err
		}
		defer ef.Close()
		events = ef
	}
	return Run(ctx, rows, events, opts)
}

// Diff lists users whose aggregates differ between two collections: missing
// on one side, different metrics, or a different set of securities, in any order. It is
// used to compare a replayed collection with a fresh snapshot build.
func Diff(got, want aggregate.Collection) []string {
	var out []string
	for _, id := range want.UserIDs() {
		w, _ := want.Lookup(id)
		g, ok := got.Lookup(id)
		if !ok {
			out = append(out, fmt.Sprintf("%s: missing", id))
			continue
		}
		if !g.Metrics.Equal(w.Metrics) {
			out = append(out, fmt.Sprintf("%s: PnL %s want %s, trade value %s want %s, bought %d want %d, sold %d want %d",
				id, g.PnL, w.PnL, g.TotalTradeValue, w.TotalTradeValue,
				g.TotalTradesBrought, w.TotalTradesBrought, g.TotalTradesSold, w.TotalTradesSold))
			continue
		}
		if securities(g) != securities(w) {
			out = append(out, fmt.Sprintf("%s: securities %s want %s", id, securities(g), securities(w)))
		}
	}
	for _, id := range got.UserIDs() {
		if _, ok := want.Lookup(id); !ok {
			out = append(out, fmt.Sprintf("%s: unexpected", id))
		}
	}
	return out
}

func securities(u aggregate.UserAggregate) string {
	ids := make([]string, len(u.Positions))
	for i, p := range u.Positions {
		ids[i] = p.SecurityID
	}
	slices.Sort(ids)
	return strings.Join(ids, ",")
}
