package journal

import (
	"context"
	"sync"
	"time"

	"github.com/rustyeddy/livedesk/changefeed"
)

type subscription struct {
	events chan changefeed.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *subscription) Events() <-chan changefeed.Event { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (j *SQLite) tail(ctx context.Context, after int64) *subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan changefeed.Event, j.batch),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go j.poll(ctx, sub, after)
	return sub
}

// poll delivers changes in log order until ctx ends or a read fails.
func (j *SQLite) poll(ctx context.Context, sub *subscription, after int64) {
	defer close(sub.done)
	defer close(sub.events)

	t := time.NewTicker(j.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		for {
			changes, err := j.Changes(ctx, after, j.batch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sub.mu.Lock()
				sub.err = err
				sub.mu.Unlock()
				j.log.Error().Err(err).Msg("change log poll failed")
				return
			}
			for _, c := range changes {
				after = c.Seq
				if c.Err != nil {
					j.log.Warn().Err(c.Err).Int64("seq", c.Seq).Msg("skipping undecodable change")
					continue
				}
				select {
				case sub.events <- c.Event:
				case <-ctx.Done():
					return
				}
			}
			if len(changes) < j.batch {
				break
			}
		}
	}
}
