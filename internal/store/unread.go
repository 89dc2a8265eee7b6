package store

// IncrementUnread bumps the unread counter for a peer by one. The increment
// is a single atomic read-modify-write statement, safe against concurrent
// callers on the dispatch and query paths.
func (db *DB) IncrementUnread(peerID string) error {
	_, err := db.Exec(`
		INSERT INTO unread (peer_id, count) VALUES (?, 1)
		ON CONFLICT(peer_id) DO UPDATE SET count = count + 1`, peerID)
	return err
}

// ClearUnread resets the counter for a peer to zero.
func (db *DB) ClearUnread(peerID string) error {
	_, err := db.Exec(`DELETE FROM unread WHERE peer_id = ?`, peerID)
	return err
}

// Unread returns the unread count for a peer, zero when absent.
func (db *DB) Unread(peerID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COALESCE((SELECT count FROM unread WHERE peer_id = ?), 0)`, peerID).Scan(&count)
	return count, err
}
