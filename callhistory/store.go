// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package callhistory persists terminated calls in sqlite.
package callhistory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arnaldorodrigues/webphone"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const DefaultListLimit = 100

// Store is webphone.HistoryRecorder backed by sqlite
type Store struct {
	db *sql.DB
}

var _ webphone.HistoryRecorder = (*Store)(nil)

// Open creates or opens database file at path and runs pending migrations
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// Single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	log.Debug().Str("path", path).Msg("Call history opened")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
	}
	return nil
}

// RecordCall stores terminated call. Same call recorded twice keeps first record.
func (s *Store) RecordCall(ctx context.Context, rec webphone.CallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, direction, remote_number, created_at, received_at,
		 answered_at, hangup_at, duration, outcome, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO NOTHING`,
		rec.ID, string(rec.Direction), rec.RemoteNumber,
		toUnixNano(rec.Timers.CreatedAt), toUnixNano(rec.Timers.ReceivedAt),
		toUnixNano(rec.Timers.AnsweredAt), toUnixNano(rec.Timers.HangupAt),
		int64(rec.Timers.Duration()/time.Second),
		string(rec.Outcome.Kind), rec.Outcome.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}
	return nil
}

// List returns most recent calls first. Non positive limit uses DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]webphone.CallRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, direction, remote_number, created_at, received_at,
		 answered_at, hangup_at, outcome, reason
		 FROM calls ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var records []webphone.CallRecord
	for rows.Next() {
		var (
			rec                                   webphone.CallRecord
			direction, outcome                    string
			created, received, answered, hangupAt int64
		)
		if err := rows.Scan(&rec.ID, &direction, &rec.RemoteNumber, &created, &received,
			&answered, &hangupAt, &outcome, &rec.Outcome.Reason); err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		rec.Direction = webphone.Direction(direction)
		rec.Outcome.Kind = webphone.OutcomeKind(outcome)
		rec.Timers = webphone.CallTimers{
			CreatedAt:  fromUnixNano(created),
			ReceivedAt: fromUnixNano(received),
			AnsweredAt: fromUnixNano(answered),
			HangupAt:   fromUnixNano(hangupAt),
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns number of stored calls
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting calls: %w", err)
	}
	return n, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
