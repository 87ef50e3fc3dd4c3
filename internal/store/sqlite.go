// ABOUTME: SQLite implementation of ChatStore using modernc.org/sqlite
// ABOUTME: Creates the schema on open and runs in WAL mode

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ChatStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			agent_id   TEXT NOT NULL,
			speaker    TEXT NOT NULL,
			message    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_agent
			ON chat_messages(agent_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendChat stores rec, filling in ID and CreatedAt when empty.
func (s *SQLiteStore) AppendChat(ctx context.Context, rec *ChatRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, agent_id, speaker, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.AgentID,
		rec.Speaker,
		rec.Message,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}
	return nil
}

// RecentChat returns the newest records for agentID in chronological order.
func (s *SQLiteStore) RecentChat(ctx context.Context, agentID string, limit int) ([]*ChatRecord, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT id, agent_id, speaker, message, created_at
			FROM (
				SELECT seq, id, agent_id, speaker, message, created_at
				FROM chat_messages
				WHERE agent_id = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC
		`
		args = []any{agentID, limit}
	} else {
		query = `
			SELECT id, agent_id, speaker, message, created_at
			FROM chat_messages
			WHERE agent_id = ?
			ORDER BY seq ASC
		`
		args = []any{agentID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var records []*ChatRecord
	for rows.Next() {
		var rec ChatRecord
		var createdAtStr string
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Speaker, &rec.Message, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning chat message row: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing chat message created_at: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat messages: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
