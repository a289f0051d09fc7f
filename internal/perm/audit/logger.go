// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package audit provides audit logging for permission decisions and grant
// mutations.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/xdg"
)

// Mode controls which entries are logged.
type Mode string

// Audit logging modes.
const (
	ModeMinimal     Mode = "minimal"      // denials + admin bypasses
	ModeDenialsOnly Mode = "denials_only" // denials only
	ModeAll         Mode = "all"          // everything
)

// Outcome classifies what the engine decided.
type Outcome string

// Decision outcomes.
const (
	OutcomeAllow       Outcome = "allow"
	OutcomeDeny        Outcome = "deny"
	OutcomeDefaultDeny Outcome = "default_deny"
	OutcomeAdminBypass Outcome = "admin_bypass"
)

// Entry represents a single auditable event: a permission check, a grant, or
// a revoke.
type Entry struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"` // check, grant, revoke
	UserID     string    `json:"user_id"`
	Resource   string    `json:"resource"`
	Permission string    `json:"permission"`
	Outcome    Outcome   `json:"outcome"`
	Reason     string    `json:"reason"`
	Fields     []string  `json:"fields,omitempty"`
	GrantID    string    `json:"grant_id,omitempty"`
	DurationUS int64     `json:"duration_us"`
	Timestamp  time.Time `json:"timestamp"`
}

// Writer is the interface for writing audit entries to a backend.
type Writer interface {
	WriteSync(ctx context.Context, entry Entry) error
	WriteAsync(entry Entry) error
	Close() error
}

var (
	channelFullCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridward_audit_channel_full_total",
		Help: "Total number of times the async audit channel was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridward_audit_failures_total",
		Help: "Total number of audit logging failures",
	}, []string{"reason"})

	walEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridward_audit_wal_entries",
		Help: "Current number of entries in the audit WAL",
	})
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeMinimal, ModeDenialsOnly, ModeAll:
		return Mode(strings.ToLower(s)), nil
	default:
		return "", oops.Code("CONFIG_INVALID").
			With("audit_mode", s).
			Errorf("audit mode must be one of minimal, denials_only, all")
	}
}

// Logger routes audit entries based on mode and outcome. Denials write
// synchronously with a WAL fallback; allows write asynchronously and may be
// dropped under pressure.
type Logger struct {
	mode      Mode
	writer    Writer
	walPath   string
	walFile   *os.File
	walMu     sync.Mutex
	asyncChan chan Entry
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates a Logger with the given mode, writer, and WAL path.
// If walPath is empty, a default path in the XDG state directory is used.
func NewLogger(mode Mode, writer Writer, walPath string) *Logger {
	if walPath == "" {
		stateDir := xdg.StateDir()
		if err := xdg.EnsureDir(stateDir); err != nil {
			slog.Error("failed to ensure state directory", "error", err)
		}
		walPath = filepath.Join(stateDir, "audit-wal.jsonl")
	}

	logger := &Logger{
		mode:      mode,
		writer:    writer,
		walPath:   walPath,
		asyncChan: make(chan Entry, 1000),
		stopChan:  make(chan struct{}),
	}

	logger.wg.Add(1)
	go logger.asyncConsumer()

	return logger
}

// Log routes an audit entry based on the configured mode and outcome.
// Logging never fails a decision: write errors fall back to the WAL or are
// counted and dropped.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	shouldLog, useSync := l.shouldLog(entry.Outcome)
	if !shouldLog {
		return nil
	}

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if useSync {
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			if walErr := l.writeToWAL(entry); walErr != nil {
				slog.Error("audit write failed: both DB and WAL failed",
					"db_error", err,
					"wal_error", walErr,
					"user_id", entry.UserID,
					"resource", entry.Resource,
					"outcome", entry.Outcome,
				)
				failuresCounter.WithLabelValues("wal_failed").Inc()
			}
		}
		return nil
	}

	select {
	case l.asyncChan <- entry:
		return nil
	default:
		channelFullCounter.Inc()
		return nil
	}
}

// shouldLog determines whether an outcome is logged and whether the write is
// synchronous. Denials and admin bypasses are always synchronous: losing the
// record of a refused or bypassed check is worse than losing an allow.
func (l *Logger) shouldLog(outcome Outcome) (shouldLog, useSync bool) {
	switch l.mode {
	case ModeMinimal:
		switch outcome {
		case OutcomeDeny, OutcomeDefaultDeny, OutcomeAdminBypass:
			return true, true
		default:
			return false, false
		}

	case ModeDenialsOnly:
		switch outcome {
		case OutcomeDeny, OutcomeDefaultDeny:
			return true, true
		default:
			return false, false
		}

	case ModeAll:
		switch outcome {
		case OutcomeDeny, OutcomeDefaultDeny, OutcomeAdminBypass:
			return true, true
		case OutcomeAllow:
			return true, false
		default:
			return false, false
		}

	default:
		return false, false
	}
}

func (l *Logger) asyncConsumer() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.asyncChan:
			if err := l.writer.WriteAsync(entry); err != nil {
				slog.Error("async audit write failed",
					"error", err,
					"user_id", entry.UserID,
					"resource", entry.Resource,
				)
				failuresCounter.WithLabelValues("async_write_failed").Inc()
			}
		case <-l.stopChan:
			l.drainAsync()
			return
		}
	}
}

func (l *Logger) drainAsync() {
	for {
		select {
		case entry := <-l.asyncChan:
			if err := l.writer.WriteAsync(entry); err != nil {
				slog.Error("async audit write failed during drain",
					"error", err,
					"user_id", entry.UserID,
				)
				failuresCounter.WithLabelValues("async_write_failed").Inc()
			}
		default:
			return
		}
	}
}

// writeToWAL appends an entry to the write-ahead log.
func (l *Logger) writeToWAL(entry Entry) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return oops.Wrap(err)
	}

	if _, err := fmt.Fprintf(l.walFile, "%s\n", data); err != nil {
		return oops.Wrap(err)
	}

	walEntriesGauge.Inc()
	return nil
}

// ReplayWAL reads all entries from the WAL and writes them to the writer.
// On success, truncates the WAL file.
func (l *Logger) ReplayWAL(ctx context.Context) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if _, err := os.Stat(l.walPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(l.walPath)
	if err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}

	if len(data) == 0 {
		return nil
	}

	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Error("failed to unmarshal WAL entry", "error", err, "line", line)
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			continue
		}

		if err := l.writer.WriteSync(ctx, entry); err != nil {
			slog.Error("failed to replay WAL entry", "error", err, "id", entry.ID)
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			// Continue with other entries
		}
		count++
	}

	if err := os.Truncate(l.walPath, 0); err != nil {
		return oops.With("path", l.walPath).Wrap(err)
	}

	walEntriesGauge.Set(0)
	slog.Info("replayed audit WAL entries", "count", count)
	return nil
}

// Close gracefully shuts down the logger.
func (l *Logger) Close() error {
	close(l.stopChan)
	l.wg.Wait()

	if err := l.writer.Close(); err != nil {
		return oops.Wrap(err)
	}

	l.walMu.Lock()
	defer l.walMu.Unlock()
	if l.walFile != nil {
		if err := l.walFile.Close(); err != nil {
			return oops.Wrap(err)
		}
		l.walFile = nil
	}

	return nil
}

// NopWriter discards all entries. Used when auditing is disabled and in
// tests that don't assert on audit output.
type NopWriter struct{}

// WriteSync implements Writer.
func (NopWriter) WriteSync(context.Context, Entry) error { return nil }

// WriteAsync implements Writer.
func (NopWriter) WriteAsync(Entry) error { return nil }

// Close implements Writer.
func (NopWriter) Close() error { return nil }
