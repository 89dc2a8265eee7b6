package store

import (
	"database/sql"
	"time"
)

// SaveFriendRequest stores an inbound friend request, overwriting any
// existing record for the same peer (find-by-peer, overwrite-or-append).
func (db *DB) SaveFriendRequest(r *FriendRequest) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO friend_requests (peer_id, display_name, avatar_ref, note, received_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref,
			note = excluded.note,
			received_at = excluded.received_at,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		r.PeerID, r.DisplayName, r.AvatarRef, r.Note, r.ReceivedAt, r.Status, now)
	return err
}

// SetRequestStatus transitions the stored request for peerID to status.
// Terminal records (accepted/rejected) are left untouched; a late duplicate
// transition is a silent no-op. Returns whether a matching row was updated.
func (db *DB) SetRequestStatus(peerID string, status RequestStatus) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE friend_requests SET status = ?, updated_at = ?
		WHERE peer_id = ? AND status = ?`,
		status, now, peerID, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetFriendRequest returns the stored request for a peer, nil when absent.
func (db *DB) GetFriendRequest(peerID string) (*FriendRequest, error) {
	var r FriendRequest
	err := db.QueryRow(`
		SELECT peer_id, display_name, avatar_ref, note, received_at, status
		FROM friend_requests WHERE peer_id = ?`, peerID).
		Scan(&r.PeerID, &r.DisplayName, &r.AvatarRef, &r.Note, &r.ReceivedAt, &r.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FriendRequests returns all stored requests, newest first.
func (db *DB) FriendRequests() ([]FriendRequest, error) {
	rows, err := db.Query(`
		SELECT peer_id, display_name, avatar_ref, note, received_at, status
		FROM friend_requests
		ORDER BY received_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reqs []FriendRequest
	for rows.Next() {
		var r FriendRequest
		if err := rows.Scan(&r.PeerID, &r.DisplayName, &r.AvatarRef, &r.Note, &r.ReceivedAt, &r.Status); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// PendingRequestCount returns how many requests await a local decision.
func (db *DB) PendingRequestCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM friend_requests WHERE status = ?`, StatusPending).Scan(&n)
	return n, err
}
