package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/ecd/internal/model"

	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db *sql.DB
}

// New opens (or creates) a SQLite-backed Store at dbPath. ":memory:" is accepted.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	b := &sqliteBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return newStore(b, opts...), nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

func (b *sqliteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (kind, id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in-progress',
		version INTEGER NOT NULL DEFAULT 1,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS sessions_student ON sessions (student_id);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *sqliteBackend) putDoc(ctx context.Context, kind, id string, body []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO documents (kind, id, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		kind, id, string(body), time.Now(),
	)
	return err
}

func (b *sqliteBackend) getDoc(ctx context.Context, kind, id string) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE kind = ? AND id = ?`, kind, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("%s %s", kind, id)
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (b *sqliteBackend) listDocs(ctx context.Context, kind string) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT body FROM documents WHERE kind = ? ORDER BY seq`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, []byte(body))
	}
	return out, rows.Err()
}

func (b *sqliteBackend) deleteDoc(ctx context.Context, kind, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NotFoundf("%s %s", kind, id)
	}
	return nil
}

func (b *sqliteBackend) insertSession(ctx context.Context, rec sessionRecord) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO sessions (id, student_id, status, version, body, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StudentID, rec.Status, rec.Version, string(rec.Body), time.Now(),
	)
	return err
}

func (b *sqliteBackend) getSession(ctx context.Context, id string) (sessionRecord, error) {
	var rec sessionRecord
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT id, student_id, status, version, body FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.StudentID, &rec.Status, &rec.Version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, model.NotFoundf("session %s", id)
	}
	rec.Body = []byte(body)
	return rec, err
}

// listSessions returns sessions matching the filter, newest first.
func (b *sqliteBackend) listSessions(ctx context.Context, f SessionFilter) ([]sessionRecord, error) {
	query := `SELECT id, student_id, status, version, body FROM sessions WHERE 1=1`
	var args []any
	if f.StudentID != "" {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ExcludeStatus != "" {
		query += ` AND status != ?`
		args = append(args, f.ExcludeStatus)
	}
	query += ` ORDER BY seq DESC`
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sessionRecord
	for rows.Next() {
		var rec sessionRecord
		var body string
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.Status, &rec.Version, &body); err != nil {
			return nil, err
		}
		rec.Body = []byte(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) updateSession(ctx context.Context, rec sessionRecord, expect int64) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET student_id = ?, status = ?, version = ?, body = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		rec.StudentID, rec.Status, rec.Version, string(rec.Body), time.Now(), rec.ID, expect,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := b.getSession(ctx, rec.ID); err != nil {
		return err
	}
	return model.Conflictf("session %s changed since version %d", rec.ID, expect)
}
