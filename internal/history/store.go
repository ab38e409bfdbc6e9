package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/services"
)

// Run statuses stored in the runs table.
const (
	StatusRunning     = "running"
	StatusFinished    = "finished"
	StatusCanceled    = "canceled"
	StatusInterrupted = "interrupted"
)

// Record is one row of run history.
type Record struct {
	ID          string         `json:"id"`
	Mode        string         `json:"mode"`
	DryRun      bool           `json:"dry_run"`
	Status      string         `json:"status"`
	RootFolder  string         `json:"root_folder"`
	AudioMode   string         `json:"audio_mode"`
	BitrateKbps int            `json:"bitrate_kbps"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Summary     *batch.Summary `json:"summary,omitempty"`
}

// Store persists run history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Open creates or connects to the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin records a started job.
func (s *Store) Begin(ctx context.Context, rec Record) error {
	_, err := s.exec(ctx,
		`INSERT INTO runs (id, mode, dry_run, status, root_folder, audio_mode, bitrate_kbps, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Mode, boolToInt(rec.DryRun), StatusRunning, rec.RootFolder, rec.AudioMode, rec.BitrateKbps,
		formatTime(rec.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	return nil
}

// Finish finalises a job row with its terminal status and summary.
func (s *Store) Finish(ctx context.Context, id, status string, exitCode int, summary batch.Summary, finishedAt time.Time) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, exit_code = ?, reason = ?, summary_json = ? WHERE id = ?`,
		status, formatTime(finishedAt), exitCode, summary.Reason, string(payload), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "history", "finish", "run "+id, nil)
	}
	return nil
}

// MarkInterrupted finalises rows left running by a previous process.
func (s *Store) MarkInterrupted(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, exit_code = 1, reason = ? WHERE status = ?`,
		StatusInterrupted, formatTime(at), StatusInterrupted, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get loads one run by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, services.Wrap(services.ErrNotFound, "history", "get", "run "+id, nil)
	}
	return rec, err
}

const selectColumns = `SELECT id, mode, dry_run, status, root_folder, audio_mode, bitrate_kbps,
	started_at, finished_at, exit_code, reason, summary_json FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		dryRun     int
		startedAt  string
		finishedAt sql.NullString
		exitCode   sql.NullInt64
		summary    sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Mode, &dryRun, &rec.Status, &rec.RootFolder, &rec.AudioMode, &rec.BitrateKbps,
		&startedAt, &finishedAt, &exitCode, &rec.Reason, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan run: %w", err)
	}
	rec.DryRun = dryRun != 0
	rec.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		rec.FinishedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if summary.Valid && summary.String != "" {
		var s batch.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err == nil {
			rec.Summary = &s
		}
	}
	return rec, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
