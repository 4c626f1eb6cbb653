package live

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/livedesk/changefeed"
	"github.com/rustyeddy/livedesk/internal/logging"
)

// DefaultIdleTimeout is how long a hub keeps a view nobody holds.
const DefaultIdleTimeout = 30 * time.Second

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithViewOptions applies opts to every view the hub starts.
func WithViewOptions(opts ...Option) HubOption {
	return func(h *Hub) { h.opts = append(h.opts, opts...) }
}

// WithIdleTimeout sets how long a released view is kept for the next
// caller. Zero closes it as soon as the last holder releases it.
func WithIdleTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.idle = d }
}

// Hub shares one started View per viewer. A view is created on first use
// and closed once every holder has released it and it stayed idle for the
// idle timeout.
type Hub struct {
	src     changefeed.Source
	log     zerolog.Logger
	viewLog zerolog.Logger
	opts    []Option
	idle    time.Duration

	mu    sync.Mutex
	views map[Viewer]*hubEntry
}

type hubEntry struct {
	ready chan struct{}
	view  *View
	err   error

	refs  int
	timer *time.Timer
}

func NewHub(src changefeed.Source, log zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		src:     src,
		log:     logging.Component(log, "hub"),
		viewLog: log,
		idle:    DefaultIdleTimeout,
		views:   make(map[Viewer]*hubEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// View returns the viewer's started view, starting it if needed, and a
// func that releases it. Concurrent callers for the same viewer share one
// start. A view whose start failed, or whose change stream has stopped, is
// forgotten so the next call starts a fresh one.
func (h *Hub) View(ctx context.Context, viewer Viewer) (*View, func(), error) {
	for {
		e, starter, err := h.acquire(viewer)
		if err != nil {
			return nil, func() {}, err
		}

		if starter {
			h.start(ctx, viewer, e)
		} else {
			select {
			case <-e.ready:
			case <-ctx.Done():
				h.release(viewer, e)
				return nil, func() {}, ctx.Err()
			}
		}

		if e.err != nil {
			return nil, func() {}, e.err
		}
		if e.view.stopped() {
			h.forget(viewer, e)
			continue
		}

		var once sync.Once
		return e.view, func() { once.Do(func() { h.release(viewer, e) }) }, nil
	}
}

func (h *Hub) acquire(viewer Viewer) (*hubEntry, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.views == nil {
		return nil, false, ErrClosed
	}
	e, ok := h.views[viewer]
	if !ok {
		e = &hubEntry{ready: make(chan struct{})}
		h.views[viewer] = e
	}
	e.refs++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	return e, !ok, nil
}

func (h *Hub) start(ctx context.Context, viewer Viewer, e *hubEntry) {
	v := NewView(viewer, h.src, h.viewLog, h.opts...)
	// the view outlives the request that created it
	err := v.Start(context.WithoutCancel(ctx))
	if err != nil {
		_ = v.Close()
		v = nil
		h.mu.Lock()
		if h.views != nil && h.views[viewer] == e {
			delete(h.views, viewer)
		}
		h.mu.Unlock()
	}
	e.view, e.err = v, err
	close(e.ready)
}

func (h *Hub) release(viewer Viewer, e *hubEntry) {
	h.mu.Lock()
	e.refs--
	if e.refs > 0 || h.views == nil || h.views[viewer] != e {
		h.mu.Unlock()
		return
	}
	if h.idle > 0 {
		e.timer = time.AfterFunc(h.idle, func() { h.evict(viewer, e) })
		h.mu.Unlock()
		return
	}
	delete(h.views, viewer)
	h.mu.Unlock()
	h.closeEntry(viewer, e)
}

func (h *Hub) evict(viewer Viewer, e *hubEntry) {
	h.mu.Lock()
	if e.refs > 0 || h.views == nil || h.views[viewer] != e {
		h.mu.Unlock()
		return
	}
	delete(h.views, viewer)
	h.mu.Unlock()
	h.closeEntry(viewer, e)
}

// forget drops a stopped view and the caller's reference to it.
func (h *Hub) forget(viewer Viewer, e *hubEntry) {
	h.mu.Lock()
	e.refs--
	drop := h.views != nil && h.views[viewer] == e
	if drop {
		delete(h.views, viewer)
	}
	h.mu.Unlock()
	if drop {
		h.log.Warn().Err(e.view.Err()).Str("viewer", viewer.ID).Msg("replacing stopped view")
		h.closeEntry(viewer, e)
	}
}

func (h *Hub) closeEntry(viewer Viewer, e *hubEntry) {
	<-e.ready
	if e.view == nil {
		return
	}
	_ = e.view.Close()
	h.log.Debug().Str("viewer", viewer.ID).Str("view", e.view.ID()).Msg("view released")
}

// Len is the number of views being kept.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.views)
}

// Close stops every view. View returns ErrClosed afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	entries := h.views
	h.views = nil
	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	h.mu.Unlock()

	for viewer, e := range entries {
		h.closeEntry(viewer, e)
	}
	return nil
}
