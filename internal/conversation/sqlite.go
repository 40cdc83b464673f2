package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists conversations in a local SQLite database.
// Writes on the same session are additionally serialized through a
// per-session mutex so interleaved partial appends cannot occur even
// across separate statements.
type SQLiteStore struct {
	db    *sql.DB
	locks sync.Map // sessionID -> *sync.Mutex
}

// NewSQLiteStore opens (and if needed initializes) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		assistant_id TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		attached_excerpt TEXT NOT NULL DEFAULT ''
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(session_id) REFERENCES sessions(id)
	);`

	if _, err := db.Exec(createSessionsTable); err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := db.Exec(createMessagesTable); err != nil {
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Create(ctx context.Context, userID, assistantID string) (string, error) {
	sessionID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, assistant_id, start_time) VALUES (?, ?, ?, ?)",
		sessionID, userID, assistantID, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	conv := &Conversation{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, assistant_id, start_time, attached_excerpt FROM sessions WHERE id = ?",
		sessionID,
	).Scan(&conv.UserID, &conv.AssistantID, &conv.StartTime, &conv.AttachedExcerpt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, token_count, timestamp FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.TokenCount, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}

	for _, msg := range msgs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, content, token_count, timestamp) VALUES (?, ?, ?, ?, ?)",
			sessionID, msg.Role, msg.Content, msg.TokenCount, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetExcerpt(ctx context.Context, sessionID, excerpt string) error {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET attached_excerpt = ? WHERE id = ?", excerpt, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to set excerpt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set excerpt: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

func (s *SQLiteStore) End(ctx context.Context, sessionID string) error {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.locks.Delete(sessionID)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
