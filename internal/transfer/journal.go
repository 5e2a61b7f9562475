package transfer

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Mismatched
// journals must be deleted; they only hold history.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was written by a different
// schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const interruptedMessage = "daemon stopped before the item finished"

// Journal records batches and item transitions in SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// BatchRecord is a journaled batch.
type BatchRecord struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ItemCount  int        `json:"itemCount"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Cancelled  bool       `json:"cancelled"`
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// OpenJournal opens or creates the journal at path and marks items left
// unfinished by a previous run as failed.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps the per-connection pragmas in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := j.markInterrupted(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return j.createSchema(ctx)
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: journal has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (j *Journal) markInterrupted(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := j.execWithRetry(ctx,
		`UPDATE batch_items
         SET status = ?, error_code = 'cancelled', error_message = ?, updated_at = ?
         WHERE status IN (?, ?, ?)`,
		StatusFailed, interruptedMessage, now,
		StatusPending, StatusConverting, StatusCopying,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted items: %w", err)
	}
	if _, err := j.execWithRetry(ctx,
		`UPDATE batches
         SET finished_at = ?,
             succeeded = (SELECT COUNT(1) FROM batch_items WHERE batch_id = batches.id AND status = ?),
             failed = (SELECT COUNT(1) FROM batch_items WHERE batch_id = batches.id AND status = ?)
         WHERE finished_at IS NULL`,
		now, StatusDone, StatusFailed,
	); err != nil {
		return 0, fmt.Errorf("close interrupted batches: %w", err)
	}
	return res.RowsAffected()
}

// CreateBatch records a new batch and its pending items.
func (j *Journal) CreateBatch(ctx context.Context, b *Batch) error {
	info := b.Info(true)
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, parent_id, created_at, item_count) VALUES (?, ?, ?, ?)`,
		info.ID, nullableString(info.ParentID), formatTime(info.CreatedAt), info.Total,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	now := formatTime(time.Now())
	for _, item := range info.Items {
		spec, err := json.Marshal(item.Spec)
		if err != nil {
			return fmt.Errorf("marshal spec: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_items (batch_id, idx, source_path, dest_path, spec_json, status, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			info.ID, item.Index, item.SourcePath, item.DestPath, string(spec), item.Status, now,
		); err != nil {
			return fmt.Errorf("insert item %d: %w", item.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// UpdateItem records an item transition.
func (j *Journal) UpdateItem(ctx context.Context, batchID string, item Item) error {
	if err := j.execWithoutResultRetry(ctx,
		`UPDATE batch_items
         SET status = ?, error_code = ?, error_message = ?, bytes = ?, updated_at = ?
         WHERE batch_id = ? AND idx = ?`,
		item.Status, nullableString(item.Code), nullableString(item.Error), item.Bytes, formatTime(time.Now()),
		batchID, item.Index,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// FinishBatch records the aggregate outcome.
func (j *Journal) FinishBatch(ctx context.Context, info Info) error {
	finished := time.Now()
	if info.FinishedAt != nil {
		finished = *info.FinishedAt
	}
	if err := j.execWithoutResultRetry(ctx,
		`UPDATE batches SET finished_at = ?, succeeded = ?, failed = ?, cancelled = ? WHERE id = ?`,
		formatTime(finished), info.Succeeded, info.Failed, boolToInt(info.Cancelled), info.ID,
	); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// DeleteBatch removes a batch and its items.
func (j *Journal) DeleteBatch(ctx context.Context, id string) error {
	if err := j.execWithoutResultRetry(ctx, `DELETE FROM batches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// ListBatches returns the most recent batches, newest first.
func (j *Journal) ListBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, parent_id, created_at, finished_at, item_count, succeeded, failed, cancelled
         FROM batches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var (
			rec        BatchRecord
			parent     sql.NullString
			createdRaw string
			finished   sql.NullString
			cancelled  int
		)
		if err := rows.Scan(&rec.ID, &parent, &createdRaw, &finished, &rec.ItemCount, &rec.Succeeded, &rec.Failed, &cancelled); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		rec.ParentID = parent.String
		rec.Cancelled = cancelled != 0
		if t, err := parseTimeString(createdRaw); err == nil {
			rec.CreatedAt = t
		}
		if finished.Valid {
			if t, err := parseTimeString(finished.String); err == nil {
				rec.FinishedAt = &t
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Items returns the journaled items of one batch in submission order.
func (j *Journal) Items(ctx context.Context, batchID string) ([]Item, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT idx, source_path, dest_path, spec_json, status, error_code, error_message, bytes
         FROM batch_items WHERE batch_id = ? ORDER BY idx`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			item      Item
			spec      sql.NullString
			statusRaw string
			code, msg sql.NullString
		)
		if err := rows.Scan(&item.Index, &item.SourcePath, &item.DestPath, &spec, &statusRaw, &code, &msg, &item.Bytes); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if spec.Valid && spec.String != "" {
			if err := json.Unmarshal([]byte(spec.String), &item.Spec); err != nil {
				return nil, fmt.Errorf("decode spec for item %d: %w", item.Index, err)
			}
		}
		status, ok := ParseStatus(statusRaw)
		if !ok {
			return nil, fmt.Errorf("item %d: unknown status %q", item.Index, statusRaw)
		}
		item.Status = status
		item.Code = code.String
		item.Error = msg.String
		out = append(out, item)
	}
	return out, rows.Err()
}

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
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
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
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (j *Journal) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = j.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (j *Journal) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := j.db.ExecContext(ctx, query, args...)
		return err
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
