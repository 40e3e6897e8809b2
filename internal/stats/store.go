// Package stats считает статистику использования: сколько сообщений
// прошло через шлюз, какими моделями и провайдерами. Хранилище — SQLite,
// чтобы счётчики переживали рестарт и не требовали внешней БД.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	role       TEXT    NOT NULL,
	provider   TEXT    NOT NULL,
	model      TEXT    NOT NULL,
	chars      INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_model ON messages(model);
`

// Totals — агрегаты по всем сообщениям.
type Totals struct {
	Messages          int   `json:"messages"`
	UserMessages      int   `json:"user_messages"`
	AssistantMessages int   `json:"assistant_messages"`
	Chars             int64 `json:"chars"`
}

// ModelUsage — количество сообщений на модель.
type ModelUsage struct {
	Model    string `json:"model"`
	Messages int    `json:"messages"`
}

// Store пишет и агрегирует записи об использовании.
type Store struct {
	db *sql.DB
}

// Open открывает (создавая при необходимости) базу статистики.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("stats db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init stats schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record добавляет запись об одном сообщении.
func (s *Store) Record(ctx context.Context, role, provider, model string, chars int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (role, provider, model, chars, created_at) VALUES (?, ?, ?, ?, ?)`,
		role, provider, model, chars, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// Totals возвращает сводные счётчики.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN role = 'user' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN role = 'assistant' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(chars), 0)
		FROM messages`)
	if err := row.Scan(&t.Messages, &t.UserMessages, &t.AssistantMessages, &t.Chars); err != nil {
		return Totals{}, fmt.Errorf("query totals: %w", err)
	}
	return t, nil
}

// ByModel возвращает использование по моделям, от самых активных.
func (s *Store) ByModel(ctx context.Context) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*) AS n
		FROM messages
		GROUP BY model
		ORDER BY n DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("query by model: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Messages); err != nil {
			return nil, fmt.Errorf("scan model usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
