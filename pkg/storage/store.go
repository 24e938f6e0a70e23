// Package storage keeps the chat log and the contact book in a local
// SQLite database so a node remembers its conversations across restarts.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shadowghost/core/pkg/network"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the persistence collaborator behind the delivery manager.
// It satisfies network.ChatStore.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the API read history while the manager persists.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_key TEXT NOT NULL,
		message_id TEXT UNIQUE NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		content TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		delivery_status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		status TEXT NOT NULL,
		trust_level TEXT NOT NULL,
		last_seen INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_key, timestamp);
	CREATE INDEX IF NOT EXISTS idx_contacts_name ON contacts(name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Persist inserts a chat entry, or refreshes its status when the same
// message id is persisted again.
func (s *Store) Persist(chatKey string, msg network.ChatMessage) error {
	query := `
		INSERT INTO messages (
			chat_key, message_id, sender, recipient,
			content, msg_type, timestamp, delivery_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			delivery_status = excluded.delivery_status
	`
	_, err := s.db.Exec(
		query,
		chatKey,
		msg.ID,
		msg.From,
		msg.To,
		msg.Content,
		string(msg.MsgType),
		int64(msg.Timestamp),
		string(msg.DeliveryStatus),
	)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

// UpdateStatus records a delivery transition for one message.
func (s *Store) UpdateStatus(messageID string, status network.DeliveryStatus) error {
	res, err := s.db.Exec(
		`UPDATE messages SET delivery_status = ? WHERE message_id = ?`,
		string(status), messageID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns up to limit entries of a conversation, oldest first.
func (s *Store) History(chatKey string, limit int) ([]network.ChatMessage, error) {
	query := `
		SELECT message_id, sender, recipient, content, msg_type,
		       timestamp, delivery_status
		FROM messages
		WHERE chat_key = ?
		ORDER BY timestamp ASC
		LIMIT ?
	`
	rows, err := s.db.Query(query, chatKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.ChatMessage
	for rows.Next() {
		var msg network.ChatMessage
		var msgType, status string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Content,
			&msgType, &ts, &status); err != nil {
			return nil, err
		}
		msg.MsgType = network.ChatMessageType(msgType)
		msg.Timestamp = uint64(ts)
		msg.DeliveryStatus = network.DeliveryStatus(status)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
