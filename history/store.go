// Package history keeps finished transcriptions in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"kalam/transcriber"
)

var ErrNotFound = errors.New("transcription not found")

// fold is lower() with Unicode case rules. SQLite's lower() folds ASCII only.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return strings.ToLower(v), nil
			case []byte:
				return strings.ToLower(string(v)), nil
			}
			return args[0], nil
		})
}

// Entry is one stored transcription.
type Entry struct {
	ID         string
	Text       string
	CreatedAt  time.Time
	Duration   time.Duration
	Language   string
	Model      string
	SourceFile string
}

type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates the database file and its parent directory if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL readers share the file.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    language TEXT,
    model TEXT,
    source_file TEXT
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save records res. A missing ID or timestamp is filled in.
func (s *Store) Save(ctx context.Context, res *transcriber.Result) error {
	if res == nil {
		return errors.New("history: nil result")
	}
	id := res.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := res.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(id, text, created_at, duration_ms, language, model, source_file)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET text=excluded.text`,
		id, res.Text, created.UTC().UnixMilli(), res.Duration.Milliseconds(),
		res.Language, res.Model, res.SourceFile)
	if err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, text, created_at, duration_ms, language, model, source_file FROM transcriptions`

// List returns the newest entries first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	q := selectColumns + ` ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

// Search matches query as a case-insensitive substring of the text. An
// empty query returns everything.
func (s *Store) Search(ctx context.Context, query string) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, 0)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx,
		selectColumns+` WHERE fold(text) LIKE ? ESCAPE '\' ORDER BY created_at DESC, rowid DESC`,
		pattern)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	r, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteAll empties the history and returns how many entries were removed.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	r, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return r.RowsAffected()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                   Entry
			createdMs, durMs    int64
			lang, model, source sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Text, &createdMs, &durMs, &lang, &model, &source); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdMs)
		e.Duration = time.Duration(durMs) * time.Millisecond
		e.Language = lang.String
		e.Model = model.String
		e.SourceFile = source.String
		out = append(out, e)
	}
	return out, rows.Err()
}
