package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reminders/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL,
  scheduled_time INTEGER NOT NULL,
  type TEXT NOT NULL CHECK(type IN ('event','task','todo')),
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_scheduled ON messages(scheduled_time, type);
`
	_, err := db.Exec(schema)
	return err
}

type SQLiteStore struct{ db *sql.DB }

// OpenSQLite opens (creating if needed) the database file at path and
// ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return NewSQLiteStore(db), nil
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore { return &SQLiteStore{db: db} }

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Insert(ctx context.Context, m domain.Message) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	id := m.ID
	if id == "" {
		id = newID()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (id,text,scheduled_time,type,created_at,updated_at)
VALUES (?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, m.Text, toMillis(m.ScheduledTime), string(m.Type))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,text,scheduled_time,type FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.Message, error) {
	return s.query(ctx, Filter{})
}

func (s *SQLiteStore) FindInWindow(ctx context.Context, start, end time.Time) ([]domain.Message, error) {
	return s.query(ctx, Filter{From: &start, To: &end})
}

func (s *SQLiteStore) DeleteWhere(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) UpdateWhere(ctx context.Context, f Filter, p Patch) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	if p.Empty() {
		return 0, nil
	}
	set, setArgs := setClause(p)
	where, whereArgs := whereClause(f)
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET "+set+where, append(setArgs, whereArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("update messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateByID(ctx context.Context, id string, p Patch) error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.Empty() {
		_, err := s.Get(ctx, id)
		return err
	}
	set, args := setClause(p)
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET "+set+" WHERE id=?", append(args, id)...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	return s.DeleteWhere(ctx, Filter{})
}

func (s *SQLiteStore) query(ctx context.Context, f Filter) ([]domain.Message, error) {
	where, args := whereClause(f)
	rows, err := s.db.QueryContext(ctx, "SELECT id,text,scheduled_time,type FROM messages"+where+" ORDER BY scheduled_time, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanMessage(row scanner) (domain.Message, error) {
	var m domain.Message
	var ms int64
	var typ string
	if err := row.Scan(&m.ID, &m.Text, &ms, &typ); err != nil {
		return domain.Message{}, err
	}
	m.ScheduledTime = fromMillis(ms)
	m.Type = domain.Type(typ)
	return m, nil
}

func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.From != nil {
		conds = append(conds, "scheduled_time >= ?")
		args = append(args, toMillis(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "scheduled_time <= ?")
		args = append(args, toMillis(*f.To))
	}
	if len(f.Types) > 0 {
		conds = append(conds, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range typeStrings(f.Types) {
			args = append(args, t)
		}
	}
	if len(f.ExcludeTypes) > 0 {
		conds = append(conds, "type NOT IN ("+placeholders(len(f.ExcludeTypes))+")")
		for _, t := range typeStrings(f.ExcludeTypes) {
			args = append(args, t)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func setClause(p Patch) (string, []any) {
	var sets []string
	var args []any
	if p.Text != nil {
		sets = append(sets, "text=?")
		args = append(args, *p.Text)
	}
	if p.ScheduledTime != nil {
		sets = append(sets, "scheduled_time=?")
		args = append(args, toMillis(*p.ScheduledTime))
	}
	if p.Type != nil {
		sets = append(sets, "type=?")
		args = append(args, string(*p.Type))
	}
	sets = append(sets, "updated_at=CURRENT_TIMESTAMP")
	return strings.Join(sets, ","), args
}
