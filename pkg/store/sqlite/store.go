// Package sqlite persists session snapshots in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/export"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/store/sqlite/migrations"
)

var ErrNotFound = errors.New("store: session not found")

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is a saved session.
type Record struct {
	ID             string
	Title          string
	SourceLanguage string
	TargetLanguage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Snapshot       pipeline.Snapshot
}

// RecordOf captures the current content of a live session. An empty
// title falls back to the session title.
func RecordOf(ctx context.Context, sess *pipeline.Session, title string) (Record, error) {
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return Record{}, err
	}
	doc, err := sess.Document(ctx, title)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:             sess.ID,
		Title:          doc.Title,
		SourceLanguage: doc.SourceLanguage,
		TargetLanguage: doc.TargetLanguage,
		CreatedAt:      doc.CreatedAt,
		Snapshot:       snap,
	}, nil
}

// Document returns the saved session as an export document.
func (r Record) Document() export.Document {
	return export.Document{
		ID:             r.ID,
		Title:          r.Title,
		CreatedAt:      r.CreatedAt,
		Context:        r.Snapshot.Context,
		Source:         r.Snapshot.Source,
		Translation:    r.Snapshot.Translated,
		SourceLanguage: r.SourceLanguage,
		TargetLanguage: r.TargetLanguage,
	}
}

// Summary is a list entry without the snapshot body.
type Summary struct {
	ID        string
	Title     string
	SourceLen int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database file at path and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("creating data directory: %w", err), errorsx.ReasonStoreOpen)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("opening database: %w", err), errorsx.ReasonStoreOpen)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, errorsx.Wrap(fmt.Errorf("running migrations: %w", err), errorsx.ReasonStoreOpen)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Save inserts or replaces rec. CreatedAt is kept from an existing row.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, errorsx.Wrap(errors.New("store: empty session id"), errorsx.ReasonStoreSave)
	}
	body, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return Record{}, errorsx.Wrap(fmt.Errorf("encoding snapshot: %w", err), errorsx.ReasonStoreSave)
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, source_lang, target_lang, snapshot, source_len, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source_lang = excluded.source_lang,
			target_lang = excluded.target_lang,
			snapshot = excluded.snapshot,
			source_len = excluded.source_len,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Title, rec.SourceLanguage, rec.TargetLanguage, string(body), len(rec.Snapshot.Source),
		rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.Format(timeLayout))
	if err != nil {
		return Record{}, errorsx.Wrap(fmt.Errorf("saving session %s: %w", rec.ID, err), errorsx.ReasonStoreSave)
	}
	return s.Get(ctx, rec.ID)
}

// Get loads a saved session.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var (
		rec              Record
		body             string
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, source_lang, target_lang, snapshot, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Title, &rec.SourceLanguage, &rec.TargetLanguage, &body, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errorsx.Wrap(fmt.Errorf("loading session %s: %w", id, err), errorsx.ReasonStoreLoad)
	}
	if err := json.Unmarshal([]byte(body), &rec.Snapshot); err != nil {
		return Record{}, errorsx.Wrap(fmt.Errorf("decoding snapshot %s: %w", id, err), errorsx.ReasonStoreLoad)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

// List returns saved sessions, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, source_len, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("listing sessions: %w", err), errorsx.ReasonStoreLoad)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			created, updated string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.SourceLen, &created, &updated); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("scanning session: %w", err), errorsx.ReasonStoreLoad)
		}
		sum.CreatedAt = parseTime(created)
		sum.UpdatedAt = parseTime(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a saved session.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("deleting session %s: %w", id, err), errorsx.ReasonStoreSave)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
