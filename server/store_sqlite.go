package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/podly-labs/podflow/script"

	_ "modernc.org/sqlite"
)

// ErrScriptNotFound is returned when no stored script matches an ID.
var ErrScriptNotFound = errors.New("script not found")

// ScriptRecord is one generated script persisted for later audio rendering
// and retrieval.
type ScriptRecord struct {
	ID        string              `json:"scriptId"`
	Script    script.PromptScript `json:"newScript"`
	CreatedAt time.Time           `json:"createdAt"`
}

// ScriptStore persists generated scripts.
type ScriptStore interface {
	Save(ctx context.Context, rec ScriptRecord) error
	Get(ctx context.Context, id string) (*ScriptRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

const scriptSchema = `
CREATE TABLE IF NOT EXISTS scripts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	prompt TEXT NOT NULL,
	situation TEXT,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scripts_created ON scripts(created_at);`

// SQLiteScriptStore keeps scripts in a SQLite database.
type SQLiteScriptStore struct {
	db *sql.DB
}

// NewSQLiteScriptStore opens (or creates) a SQLite-backed script store.
func NewSQLiteScriptStore(dsn string) (*SQLiteScriptStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite script store: dsn is empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec(scriptSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing script schema: %w", err)
	}
	return &SQLiteScriptStore{db: db}, nil
}

func (s *SQLiteScriptStore) Save(ctx context.Context, rec ScriptRecord) error {
	payload, err := json.Marshal(rec.Script)
	if err != nil {
		return fmt.Errorf("encoding script %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scripts (id, prompt, situation, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   prompt = excluded.prompt,
		   situation = excluded.situation,
		   payload = excluded.payload`,
		rec.ID, rec.Script.Prompt, rec.Script.Situation, payload,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving script %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteScriptStore) Get(ctx context.Context, id string) (*ScriptRecord, error) {
	var payload []byte
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, created_at FROM scripts WHERE id = ?", id,
	).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading script %s: %w", id, err)
	}

	rec := ScriptRecord{ID: id}
	if err := json.Unmarshal(payload, &rec.Script); err != nil {
		return nil, fmt.Errorf("decoding script %s: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func (s *SQLiteScriptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM scripts WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning scripts: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteScriptStore) Close() error { return s.db.Close() }
