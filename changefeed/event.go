// Package changefeed describes row-level change events for the positions
// table and the data-access capability that delivers snapshots and events.
package changefeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/livedesk/position"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

var ErrUnknownEventType = errors.New("unknown event type")

// ParseEventType accepts the type case-insensitively.
func ParseEventType(s string) (EventType, error) {
	switch et := EventType(strings.ToUpper(strings.TrimSpace(s))); et {
	case Insert, Update, Delete:
		return et, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// Event is one change to one row. New is nil for DELETE; Old may carry only
// the primary key depending on the table's replica identity.
type Event struct {
	Type       EventType    `json:"eventType"`
	Table      string       `json:"table,omitempty"`
	New        position.Row `json:"new,omitempty"`
	Old        position.Row `json:"old,omitempty"`
	CommitTime time.Time    `json:"commit_timestamp,omitempty"`
}

// Row returns the row that identifies the affected position: Old for DELETE
// when it carries both identity columns, New otherwise.
func (e Event) Row() position.Row {
	if e.Type == Delete {
		if _, _, ok := e.Old.Identity(); ok {
			return e.Old
		}
		if len(e.New) == 0 {
			return e.Old
		}
	}
	return e.New
}

// wireEvent accepts both the realtime payload names and the older
// record/old_record names some trigger functions emit.
type wireEvent struct {
	EventType string       `json:"eventType"`
	Type      string       `json:"type"`
	Table     string       `json:"table"`
	New       position.Row `json:"new"`
	Old       position.Row `json:"old"`
	Record    position.Row `json:"record"`
	OldRecord position.Row `json:"old_record"`
	Commit    string       `json:"commit_timestamp"`
}

// ParseEvent decodes a JSON change payload. Numbers are kept as json.Number
// so money columns are not rounded through float64.
func ParseEvent(b []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}

	name := w.EventType
	if name == "" {
		name = w.Type
	}
	et, err := ParseEventType(name)
	if err != nil {
		return Event{}, err
	}

	ev := Event{Type: et, Table: w.Table, New: w.New, Old: w.Old}
	if ev.New == nil {
		ev.New = w.Record
	}
	if ev.Old == nil {
		ev.Old = w.OldRecord
	}
	if w.Commit != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.Commit); err == nil {
			ev.CommitTime = t
		}
	}
	return ev, nil
}
