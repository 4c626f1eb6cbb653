// Package live keeps a viewer's position collection current: it loads a
// scoped snapshot, then folds every change event from the subscription into
// it on a single goroutine.
package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rustyeddy/livedesk/aggregate"
	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/logging"
	"github.com/rustyeddy/livedesk/internal/trace"
	"github.com/rustyeddy/livedesk/pkg/id"
	"github.com/rustyeddy/livedesk/position"
)

// scheduleParser accepts 5- or 6-field expressions and descriptors like "@every 1m".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether schedule is one WithResync
// accepts.
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("resync schedule %q: %w", schedule, err)
	}
	return nil
}

// Option configures a View.
type Option func(*View)

// WithTable changes the table the view reads and subscribes to.
func WithTable(table string) Option {
	return func(v *View) { v.table = table }
}

// WithResync refetches the snapshot on a cron schedule ("@every 5m",
// "0 */10 * * * *") and replaces the collection with it. Off by default.
func WithResync(schedule string) Option {
	return func(v *View) { v.resync = schedule }
}

// Stats counts what the apply loop has done.
type Stats struct {
	Applied  int64 `json:"applied"`
	Dropped  int64 `json:"dropped"`
	Filtered int64 `json:"filtered"`
	Resyncs  int64 `json:"resyncs"`
}

// View is one viewer's live collection.
type View struct {
	id     string
	viewer Viewer
	filter changefeed.Filter
	src    changefeed.Source
	log    zerolog.Logger
	table  string
	resync string

	mu        sync.RWMutex
	coll      aggregate.Collection
	err       error
	started   bool
	closed    bool
	ended     bool
	cancel    context.CancelFunc
	watchers  map[int]chan aggregate.Collection
	nextWatch int

	done     chan struct{}
	resyncCh chan struct{}

	applied, dropped, filtered, resyncs atomic.Int64
}

// NewView prepares a view; nothing is fetched until Start.
func NewView(viewer Viewer, src changefeed.Source, log zerolog.Logger, opts ...Option) *View {
	v := &View{
		id:       id.WithPrefix("view"),
		viewer:   viewer,
		filter:   viewer.Filter(),
		src:      src,
		table:    changefeed.DefaultTable,
		watchers: make(map[int]chan aggregate.Collection),
		done:     make(chan struct{}),
		resyncCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = logging.Component(log, "live").With().
		Str("view", v.id).
		Str("viewer", viewer.ID).
		Str("role", string(viewer.Role)).
		Logger()
	return v
}

func (v *View) ID() string { return v.id }

func (v *View) Viewer() Viewer { return v.viewer }

func (v *View) Table() string { return v.table }

// Start subscribes to the table, loads the snapshot and starts applying
// events. It blocks until the snapshot is in. Events that arrive while the
// snapshot is loading wait in the subscription and are applied after it.
//
// The apply loop runs until Close or until ctx is cancelled.
func (v *View) Start(ctx context.Context) error {
	var sched *cron.Cron
	if v.resync != "" {
		sched = cron.New(cron.WithParser(scheduleParser))
		_, err := sched.AddFunc(v.resync, func() {
			select {
			case v.resyncCh <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("resync schedule %q: %w", v.resync, err)
		}
	}

	v.mu.Lock()
	switch {
	case v.closed:
		v.mu.Unlock()
		return ErrClosed
	case v.started:
		v.mu.Unlock()
		return ErrStarted
	}
	v.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.mu.Unlock()

	sub, err := v.src.Subscribe(loopCtx, v.table)
	if err != nil {
		cancel()
		err = fmt.Errorf("subscribe %s: %w", v.table, err)
		v.fail(err)
		close(v.done)
		return err
	}

	rows, err := v.fetch(loopCtx)
	if err != nil {
		_ = sub.Close()
		cancel()
		ferr := &SnapshotFetchError{Table: v.table, Err: err}
		v.fail(ferr)
		close(v.done)
		return ferr
	}

	coll := v.build(rows)
	v.publish(coll)
	v.log.Info().
		Int("users", coll.Len()).
		Int("positions", coll.PositionCount()).
		Msg("snapshot loaded")

	if sched != nil {
		sched.Start()
		v.log.Info().Str("schedule", v.resync).Msg("resync scheduled")
	}

	go v.run(loopCtx, sub, sched)
	return nil
}

// Close stops the loop and releases the subscription. No event is applied
// after Close returns. Watch channels are closed. Safe to call more than
// once.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	started, cancel := v.started, v.cancel
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-v.done
	}

	v.mu.Lock()
	for k, ch := range v.watchers {
		close(ch)
		delete(v.watchers, k)
	}
	v.mu.Unlock()

	v.log.Debug().Msg("view closed")
	return nil
}

// Collection returns the current collection.
func (v *View) Collection() aggregate.Collection {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.coll
}

// Select returns a copy of one user's aggregate for a detail view.
func (v *View) Select(userID string) (aggregate.UserAggregate, bool) {
	return v.Collection().Lookup(userID)
}

// Err reports the snapshot or stream failure that stopped the view, if any.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

func (v *View) Stats() Stats {
	return Stats{
		Applied:  v.applied.Load(),
		Dropped:  v.dropped.Load(),
		Filtered: v.filtered.Load(),
		Resyncs:  v.resyncs.Load(),
	}
}

// Watch returns a channel that receives the current collection and then
// each newly published one. A slow reader only sees the latest. The
// channel is closed when the view stops, after which Err tells why. The
// returned func stops the watch and closes the channel.
func (v *View) Watch() (<-chan aggregate.Collection, func()) {
	ch := make(chan aggregate.Collection, 1)

	v.mu.Lock()
	if v.closed || v.ended {
		if !v.closed {
			ch <- v.coll
		}
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ch <- v.coll
	key := v.nextWatch
	v.nextWatch++
	v.watchers[key] = ch
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.watchers[key]; ok {
				delete(v.watchers, key)
				close(ch)
			}
		})
	}
}

func (v *View) run(ctx context.Context, sub changefeed.Subscription, sched *cron.Cron) {
	defer close(v.done)
	defer func() {
		if sched != nil {
			<-sched.Stop().Done()
		}
		if err := sub.Close(); err != nil {
			v.log.Warn().Err(err).Msg("close subscription")
		}
		v.end()
	}()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if err := sub.Err(); err != nil {
					v.fail(fmt.Errorf("change stream: %w", err))
				}
				v.log.Warn().Err(sub.Err()).Msg("change stream ended")
				return
			}
			if ctx.Err() != nil {
				return
			}
			v.handle(ctx, ev)
		case <-v.resyncCh:
			v.refresh(ctx)
		}
	}
}

// handle applies one event if it is in the viewer's scope. An UPDATE that
// moves a row out of scope removes it instead.
func (v *View) handle(ctx context.Context, ev changefeed.Event) {
	if ev.Table != "" && ev.Table != v.table {
		v.filtered.Add(1)
		return
	}
	ev, ok := v.filter.Scope(ev)
	if !ok {
		v.filtered.Add(1)
		return
	}

	_, span := trace.StartSpan(ctx, "live.apply",
		attribute.String("view", v.id),
		attribute.String("event", string(ev.Type)),
	)
	defer span.End()

	cur := v.Collection()
	next, err := aggregate.Apply(cur, ev)
	if err != nil {
		trace.RecordError(span, err)
		v.dropped.Add(1)
		v.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("dropping change event")
		return
	}
	v.publish(next)
	v.applied.Add(1)

	if v.log.GetLevel() <= zerolog.DebugLevel {
		u, sec, _ := ev.Row().Identity()
		v.log.Debug().
			Str("event", string(ev.Type)).
			Str("user", u).
			Str("security", sec).
			Int("users", next.Len()).
			Msg("applied")
	}
}

func (v *View) refresh(ctx context.Context) {
	rows, err := v.fetch(ctx)
	if err != nil {
		v.log.Warn().Err(err).Msg("resync failed, keeping current collection")
		return
	}
	coll := v.build(rows)
	v.publish(coll)
	v.resyncs.Add(1)
	v.log.Info().Int("users", coll.Len()).Msg("resynced")
}

func (v *View) fetch(ctx context.Context) ([]position.Row, error) {
	ctx, span := trace.StartSpan(ctx, "live.snapshot",
		attribute.String("view", v.id),
		attribute.String("table", v.table),
		attribute.String("filter", v.filter.Column),
	)
	defer span.End()

	rows, err := v.src.Snapshot(ctx, v.table, v.filter)
	trace.RecordError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("rows", len(rows)))
	}
	return rows, err
}

func (v *View) build(rows []position.Row) aggregate.Collection {
	return aggregate.BuildLenient(rows, func(i int, _ position.Row, err error) {
		v.dropped.Add(1)
		v.log.Warn().Err(err).Int("row", i).Msg("skipping malformed snapshot row")
	})
}

func (v *View) publish(c aggregate.Collection) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.coll = c
	for _, ch := range v.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

// end closes the watchers once the apply loop has exited.
func (v *View) end() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ended = true
	for k, ch := range v.watchers {
		close(ch)
		delete(v.watchers, k)
	}
}

// stopped reports whether a started view's apply loop has exited.
func (v *View) stopped() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

func (v *View) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.log.Error().Err(err).Msg("view stopped")
}
