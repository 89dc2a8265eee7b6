package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Well-known kv key prefixes and session keys.
const (
	nicknameKeyPrefix = "nickname:"
	avatarKeyPrefix   = "avatar:"

	KeyAuthToken = "session.token"
	KeyLocalPeer = "session.peer_id"
)

// SetKV stores a string value under key.
func (db *DB) SetKV(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetKV returns the value for key, empty string when absent.
func (db *DB) GetKV(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// RemoveKV deletes a key; absent keys are a no-op.
func (db *DB) RemoveKV(key string) error {
	_, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// NicknameKey and AvatarKey name the kv slots for a peer's cached profile.
func NicknameKey(peerID string) string { return nicknameKeyPrefix + peerID }
func AvatarKey(peerID string) string   { return avatarKeyPrefix + peerID }

// PurgePeer removes every cached record referencing a peer in a single
// transaction: friend-list row, chat history, unread counter, nickname,
// avatar, and any stored friend request. Idempotent.
func (db *DB) PurgePeer(peerID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		query string
		arg   string
	}{
		{`DELETE FROM peers WHERE peer_id = ?`, peerID},
		{`DELETE FROM messages WHERE peer_id = ?`, peerID},
		{`DELETE FROM unread WHERE peer_id = ?`, peerID},
		{`DELETE FROM friend_requests WHERE peer_id = ?`, peerID},
		{`DELETE FROM kv WHERE key = ?`, NicknameKey(peerID)},
		{`DELETE FROM kv WHERE key = ?`, AvatarKey(peerID)},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s.query, s.arg); err != nil {
			return fmt.Errorf("purge peer %q: %w", peerID, err)
		}
	}
	return tx.Commit()
}
