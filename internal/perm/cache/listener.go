// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/gridward/gridward/internal/perm/store"
)

// Reconnect backoff defaults.
const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// PGListener listens on the grant_changed NOTIFY channel over a dedicated
// (non-pooled) connection and reconnects with exponential backoff.
type PGListener struct {
	connStr          string
	channel          string
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// PGListenerOption configures a PGListener.
type PGListenerOption func(*PGListener)

// WithReconnectBackoff sets the reconnect backoff bounds.
func WithReconnectBackoff(initial, max time.Duration) PGListenerOption {
	return func(l *PGListener) {
		l.reconnectInitial = initial
		l.reconnectMax = max
	}
}

// NewPGListener creates a listener for the given connection string.
func NewPGListener(connStr string, opts ...PGListenerOption) *PGListener {
	l := &PGListener{
		connStr:          connStr,
		channel:          store.GrantChangedChannel,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Compile-time check that PGListener implements Listener.
var _ Listener = (*PGListener)(nil)

// Listen starts the connection loop and returns the payload channel. The
// channel closes when ctx is cancelled.
func (l *PGListener) Listen(ctx context.Context) (<-chan string, error) {
	out := make(chan string, 64)
	go l.run(ctx, out)
	return out, nil
}

func (l *PGListener) run(ctx context.Context, out chan<- string) {
	defer close(out)

	for ctx.Err() == nil {
		conn, err := l.connect(ctx)
		if err != nil {
			// connect only fails when the context is cancelled
			return
		}
		l.pump(ctx, conn, out)
		_ = conn.Close(context.Background()) //nolint:errcheck // connection is already broken or being discarded
	}
}

// connect dials and issues LISTEN, retrying with capped exponential backoff
// until it succeeds or the context is cancelled.
func (l *PGListener) connect(ctx context.Context) (*pgx.Conn, error) {
	var conn *pgx.Conn
	backoff := retry.WithCappedDuration(l.reconnectMax, retry.NewExponential(l.reconnectInitial))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := pgx.Connect(ctx, l.connStr)
		if err != nil {
			slog.Warn("grant listener connect failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
			_ = c.Close(ctx) //nolint:errcheck
			slog.Warn("grant listener LISTEN failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, oops.With("channel", l.channel).Wrapf(err, "connecting grant listener")
	}
	return conn, nil
}

// pump forwards notifications until the connection breaks or ctx is
// cancelled. Payloads are dropped, not blocked on, when the consumer lags:
// the consumer purges on malformed input anyway, and a dropped event only
// delays invalidation by one TTL.
func (l *PGListener) pump(ctx context.Context, conn *pgx.Conn, out chan<- string) {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("grant listener connection lost, reconnecting", "error", err)
			}
			return
		}
		select {
		case out <- notification.Payload:
		default:
			slog.Warn("grant change notification dropped, consumer lagging")
		}
	}
}
