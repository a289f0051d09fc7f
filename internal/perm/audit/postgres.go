// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// poolIface is the subset of pgxpool.Pool the writer uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertEntrySQL = `
	INSERT INTO audit_log (id, op, user_id, resource, permission, outcome, reason, fields, grant_id, duration_us, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// PostgresWriter implements Writer for PostgreSQL. Async entries are batched
// and flushed on size or a timer.
type PostgresWriter struct {
	pool        poolIface
	asyncChan   chan Entry
	stopChan    chan struct{}
	wg          sync.WaitGroup
	batchSize   int
	flushPeriod time.Duration
}

// NewPostgresWriter creates a PostgresWriter on the given pool.
func NewPostgresWriter(pool poolIface) *PostgresWriter {
	writer := &PostgresWriter{
		pool:        pool,
		asyncChan:   make(chan Entry, 1000),
		stopChan:    make(chan struct{}),
		batchSize:   100,
		flushPeriod: 1 * time.Second,
	}

	writer.wg.Add(1)
	go writer.batchConsumer()

	return writer
}

func entryArgs(entry *Entry) []any {
	return []any{
		entry.ID,
		entry.Op,
		entry.UserID,
		entry.Resource,
		entry.Permission,
		string(entry.Outcome),
		entry.Reason,
		entry.Fields,
		nullIfEmpty(entry.GrantID),
		entry.DurationUS,
		entry.Timestamp,
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// WriteSync performs a synchronous insert.
func (w *PostgresWriter) WriteSync(ctx context.Context, entry Entry) error {
	_, err := w.pool.Exec(ctx, insertEntrySQL, entryArgs(&entry)...)
	if err != nil {
		return oops.With("user_id", entry.UserID).
			With("resource", entry.Resource).
			With("outcome", string(entry.Outcome)).
			Wrap(err)
	}
	return nil
}

// WriteAsync queues an entry for batched writing.
func (w *PostgresWriter) WriteAsync(entry Entry) error {
	select {
	case w.asyncChan <- entry:
		return nil
	default:
		channelFullCounter.Inc()
		return fmt.Errorf("async channel full")
	}
}

func (w *PostgresWriter) batchConsumer() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	var batch []Entry

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.writeBatch(ctx, batch); err != nil {
			slog.Error("failed to write audit batch", "error", err, "count", len(batch))
			failuresCounter.WithLabelValues("batch_write_failed").Inc()
		}
		cancel()

		batch = batch[:0]
	}

	for {
		select {
		case entry := <-w.asyncChan:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.stopChan:
			for {
				select {
				case entry := <-w.asyncChan:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch sends all entries in one pgx batch round trip.
func (w *PostgresWriter) writeBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for i := range entries {
		b.Queue(insertEntrySQL, entryArgs(&entries[i])...)
	}

	results := w.pool.SendBatch(ctx, b)
	defer results.Close() //nolint:errcheck // close error duplicates the per-exec errors below

	for i := range entries {
		if _, err := results.Exec(); err != nil {
			slog.Error("failed to insert audit entry", "error", err, "id", entries[i].ID)
			// Continue with other entries
		}
	}

	return nil
}

// Close gracefully shuts down the writer.
func (w *PostgresWriter) Close() error {
	close(w.stopChan)
	w.wg.Wait()
	return nil
}
