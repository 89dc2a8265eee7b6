package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Key under which the friend-list snapshot time is stored.
const snapshotTimeKey = "friendlist.updated_at"

// ReplaceFriendList atomically replaces the cached friend-list snapshot and
// stamps the snapshot time. The incoming list is expected to already be the
// merged result (server-authoritative values reconciled with local pending
// edits by the synchronizer).
func (db *DB) ReplaceFriendList(list []PeerSummary) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM peers`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, p := range list {
		if _, err := tx.Exec(`
			INSERT INTO peers (peer_id, display_name, avatar_ref, last_message, last_message_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.PeerID, p.DisplayName, p.AvatarRef, p.LastMessage, p.LastMessageAt, now); err != nil {
			return fmt.Errorf("insert peer %q: %w", p.PeerID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		snapshotTimeKey, fmt.Sprintf("%d", now), now); err != nil {
		return fmt.Errorf("stamp snapshot: %w", err)
	}

	return tx.Commit()
}

// FriendList returns the cached snapshot sorted by last message time descending.
func (db *DB) FriendList() ([]PeerSummary, error) {
	rows, err := db.Query(`
		SELECT peer_id, display_name, avatar_ref, last_message, last_message_at
		FROM peers
		ORDER BY last_message_at DESC, peer_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []PeerSummary
	for rows.Next() {
		var p PeerSummary
		if err := rows.Scan(&p.PeerID, &p.DisplayName, &p.AvatarRef, &p.LastMessage, &p.LastMessageAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// GetPeer returns a single cached friend-list row, nil when absent.
func (db *DB) GetPeer(peerID string) (*PeerSummary, error) {
	var p PeerSummary
	err := db.QueryRow(`
		SELECT peer_id, display_name, avatar_ref, last_message, last_message_at
		FROM peers WHERE peer_id = ?`, peerID).
		Scan(&p.PeerID, &p.DisplayName, &p.AvatarRef, &p.LastMessage, &p.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetLastMessage records a locally observed last message for a peer without
// touching the rest of the snapshot. These are the "pending local edits" the
// merge policy protects from stale server snapshots.
func (db *DB) SetLastMessage(peerID, message string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO peers (peer_id, last_message, last_message_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		peerID, message, at, now)
	return err
}

// SnapshotUpdatedAt returns when the friend-list snapshot was last replaced,
// zero when no snapshot exists.
func (db *DB) SnapshotUpdatedAt() (time.Time, error) {
	val, err := db.GetKV(snapshotTimeKey)
	if err != nil {
		return time.Time{}, err
	}
	if val == "" {
		return time.Time{}, nil
	}
	var ms int64
	if _, err := fmt.Sscanf(val, "%d", &ms); err != nil {
		return time.Time{}, fmt.Errorf("parse snapshot time %q: %w", val, err)
	}
	return time.UnixMilli(ms), nil
}

// ClearFriendListSnapshot drops the cached snapshot and its timestamp,
// forcing the next reader to treat the cache as empty.
func (db *DB) ClearFriendListSnapshot() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM peers`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, snapshotTimeKey); err != nil {
		return err
	}
	return tx.Commit()
}
