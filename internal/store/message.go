package store

import (
	"fmt"
	"time"
)

// AppendMessages adds messages to a peer's chat history in one transaction.
// Entries whose (sender, receiver, content, timestamp) tuple already exists
// for the conversation are skipped; the unique index makes the insert a
// no-op (idempotent append).
func (db *DB) AppendMessages(peerID string, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO messages (peer_id, sender, receiver, content, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			peerID, m.Sender, m.Receiver, m.Content, m.Timestamp, now); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

// ChatHistory returns a peer's cached history sorted by timestamp ascending.
func (db *DB) ChatHistory(peerID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, peer_id, sender, receiver, content, timestamp
		FROM messages
		WHERE peer_id = ?
		ORDER BY timestamp ASC, id ASC`, peerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.PeerID, &m.Sender, &m.Receiver, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
