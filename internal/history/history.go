/*
Package history persists what douclip has already seen and what each run found.

The ledger half records every processed bundle by filename so that no file is
ever evaluated twice. The recorder half writes one row per invocation and
promotes the matches staged by the ledger into that run.
*/
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/shanehull/douclip/internal/types"
)

// ErrAlreadyProcessed is returned by Commit when the filename is already in
// the ledger. Nothing is written in that case.
var ErrAlreadyProcessed = errors.New("file already processed")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    start_date      TEXT NOT NULL,
    end_date        TEXT NOT NULL,
    mode            TEXT NOT NULL,
    executed_at     TEXT NOT NULL,
    status          TEXT NOT NULL,
    match_count     INTEGER NOT NULL DEFAULT 0,
    files_seen      INTEGER NOT NULL DEFAULT 0,
    files_processed INTEGER NOT NULL DEFAULT 0,
    files_skipped   INTEGER NOT NULL DEFAULT 0,
    files_failed    INTEGER NOT NULL DEFAULT 0,
    records_skipped INTEGER NOT NULL DEFAULT 0,
    notes           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS processed_files (
    filename      TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    pub_date      TEXT NOT NULL,
    first_seen_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL REFERENCES runs(id),
    filter_name  TEXT NOT NULL,
    source_file  TEXT NOT NULL REFERENCES processed_files(filename),
    keyword_hit  TEXT NOT NULL,
    text_snippet TEXT NOT NULL,
    organization TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    link         TEXT NOT NULL DEFAULT '',
    pub_date     TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_matches_run ON matches(run_id);

CREATE TABLE IF NOT EXISTS pending_matches (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    session      TEXT NOT NULL,
    filter_name  TEXT NOT NULL,
    source_file  TEXT NOT NULL REFERENCES processed_files(filename),
    keyword_hit  TEXT NOT NULL,
    text_snippet TEXT NOT NULL,
    organization TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    link         TEXT NOT NULL DEFAULT '',
    pub_date     TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL
);
`

// Store is the SQLite-backed ledger and run recorder. It assumes a single
// writer process.
type Store struct {
	db      *sql.DB
	session string
	now     func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:      db,
		session: uuid.NewString(),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// HasProcessed reports whether filename is in the ledger.
func (s *Store) HasProcessed(ctx context.Context, filename string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_files WHERE filename = ?`, filename).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ledger for %s: %w", filename, err)
	}
	return n > 0, nil
}

// Commit marks file as processed and stages its matches, atomically. The
// staged matches are attached to a run by Record.
func (s *Store) Commit(ctx context.Context, file types.ProcessedFile, matches []types.Match) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit of %s: %w", file.Filename, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seenAt := file.FirstSeenAt
	if seenAt.IsZero() {
		seenAt = s.now()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO processed_files (filename, kind, pub_date, first_seen_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(filename) DO NOTHING`,
		file.Filename, string(file.Kind), file.PubDate.Format(types.DateLayout), formatTime(seenAt))
	if err != nil {
		return fmt.Errorf("insert ledger row for %s: %w", file.Filename, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", file.Filename, ErrAlreadyProcessed)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pending_matches
		 (session, filter_name, source_file, keyword_hit, text_snippet, organization, title, link, pub_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pending insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range matches {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = seenAt
		}
		if _, err = stmt.ExecContext(ctx, s.session, m.FilterName, file.Filename, m.KeywordHit,
			m.Snippet, m.Organization, m.Title, m.Link, m.PubDate, formatTime(createdAt)); err != nil {
			return fmt.Errorf("stage match for %s: %w", file.Filename, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file.Filename, err)
	}
	return nil
}

// Record writes run with status ok and moves every staged match into it. The
// returned run carries its id and final match count.
func (s *Store) Record(ctx context.Context, run *types.Run) (_ *types.Run, _ []types.Match, err error) {
	r := *run
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = s.now()
	}
	r.Status = types.RunStatusOK

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin record run: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var total, adopted int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN session <> ? THEN 1 ELSE 0 END), 0) FROM pending_matches`,
		s.session).Scan(&total, &adopted)
	if err != nil {
		return nil, nil, fmt.Errorf("count pending matches: %w", err)
	}
	r.MatchCount = total
	if adopted > 0 {
		r.Notes = joinNotes(r.Notes,
			fmt.Sprintf("adopted %d pending match(es) from an interrupted run", adopted))
	}

	if err = insertRun(ctx, tx, &r); err != nil {
		return nil, nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO matches
		 (run_id, filter_name, source_file, keyword_hit, text_snippet, organization, title, link, pub_date, created_at)
		 SELECT ?, filter_name, source_file, keyword_hit, text_snippet, organization, title, link, pub_date, created_at
		 FROM pending_matches ORDER BY seq`, r.ID); err != nil {
		return nil, nil, fmt.Errorf("promote pending matches: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_matches`); err != nil {
		return nil, nil, fmt.Errorf("clear pending matches: %w", err)
	}

	matches, err := queryMatches(ctx, tx, r.ID)
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit run %s: %w", r.ID, err)
	}
	return &r, matches, nil
}

// RecordFailure writes run with status error and no matches. Staged matches
// stay pending for the next successful run.
func (s *Store) RecordFailure(ctx context.Context, run *types.Run, cause error) (*types.Run, error) {
	r := *run
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = s.now()
	}
	r.Status = types.RunStatusError
	r.MatchCount = 0
	if cause != nil {
		r.Notes = joinNotes(r.Notes, "error: "+cause.Error())
	}

	if err := insertRun(ctx, s.db, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Matches returns the matches recorded for runID in insertion order.
func (s *Store) Matches(ctx context.Context, runID string) ([]types.Match, error) {
	return queryMatches(ctx, s.db, runID)
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_date, end_date, mode, executed_at, status, match_count,
		        files_seen, files_processed, files_skipped, files_failed, records_skipped, notes
		 FROM runs ORDER BY executed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		var (
			r                        types.Run
			start, end, mode, status string
			executed                 string
		)
		if err := rows.Scan(&r.ID, &start, &end, &mode, &executed, &status, &r.MatchCount,
			&r.FilesSeen, &r.FilesProcessed, &r.FilesSkipped, &r.FilesFailed, &r.RecordsSkipped, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Mode = types.Mode(mode)
		r.Status = types.RunStatus(status)
		r.StartDate, _ = time.Parse(types.DateLayout, start)
		r.EndDate, _ = time.Parse(types.DateLayout, end)
		r.ExecutedAt = parseTime(executed)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ProcessedCount returns the number of files in the ledger.
func (s *Store) ProcessedCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of staged matches not yet attached to a run.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pending_matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending matches: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertRun(ctx context.Context, db execer, r *types.Run) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (id, start_date, end_date, mode, executed_at, status, match_count,
		                   files_seen, files_processed, files_skipped, files_failed, records_skipped, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartDate.Format(types.DateLayout), r.EndDate.Format(types.DateLayout), string(r.Mode),
		formatTime(r.ExecutedAt), string(r.Status), r.MatchCount,
		r.FilesSeen, r.FilesProcessed, r.FilesSkipped, r.FilesFailed, r.RecordsSkipped, r.Notes)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func queryMatches(ctx context.Context, db querier, runID string) ([]types.Match, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, run_id, filter_name, source_file, keyword_hit, text_snippet,
		        organization, title, link, pub_date, created_at
		 FROM matches WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query matches for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []types.Match
	for rows.Next() {
		var (
			m       types.Match
			created string
		)
		if err := rows.Scan(&m.ID, &m.RunID, &m.FilterName, &m.SourceFile, &m.KeywordHit, &m.Snippet,
			&m.Organization, &m.Title, &m.Link, &m.PubDate, &created); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func joinNotes(existing, note string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
