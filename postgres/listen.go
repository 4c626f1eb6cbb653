package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Subscribe holds one pooled connection for the life of the subscription
// and LISTENs on the store's channel.
func (s *Store) Subscribe(ctx context.Context, table string) (changefeed.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan changefeed.Event, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(ctx, conn, table, sub)
	return sub, nil
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn, table string, sub *subscription) {
	defer close(sub.done)
	defer close(sub.events)
	defer func() {
		// the connection goes back to the pool; it must not keep listening
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				sub.mu.Lock()
				sub.err = err
				sub.mu.Unlock()
				s.log.Error().Err(err).Msg("listen failed")
			}
			return
		}

		ev, ok, err := decodeNotification(n, table)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", n.Channel).Msg("skipping undecodable notification")
			continue
		}
		if !ok {
			continue
		}
		select {
		case sub.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// decodeNotification parses a payload and reports whether it belongs to
// table. Payloads without a table name are assumed to.
func decodeNotification(n *pgconn.Notification, table string) (changefeed.Event, bool, error) {
	ev, err := changefeed.ParseEvent([]byte(n.Payload))
	if err != nil {
		return changefeed.Event{}, false, err
	}
	if ev.Table == "" {
		ev.Table = table
	}
	return ev, ev.Table == table, nil
}
