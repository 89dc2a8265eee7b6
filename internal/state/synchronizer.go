// Package state owns the cached view-state for one account: the friend-list
// snapshot, per-peer unread counters, chat history, and pending friend
// requests. All collections live in the durable cache (SQLite); the
// synchronizer adds the merge policy, staleness rules, and the
// active-conversation signal on top.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qlabs-dev/qchat/internal/bus"
	"github.com/qlabs-dev/qchat/internal/store"
	"go.uber.org/zap"
)

// SnapshotValidity is the advisory freshness window for the cached friend
// list. A stale snapshot is still served; callers decide whether to force a
// refresh.
const SnapshotValidity = 30 * 24 * time.Hour

// ErrNoSession is returned when an operation needs a signed-in identity and
// none is stored.
var ErrNoSession = errors.New("no active session")

// Synchronizer reconciles server-pushed state with the on-device cache.
// Mutating calls arrive from the dispatch goroutine and from the local API;
// every mutation is a single atomic statement or transaction in the store,
// so interleaved callers cannot lose increments or observe half a purge.
type Synchronizer struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.RWMutex
	activePeer string
}

// New creates a synchronizer over the account's cache database.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// MergeFriendList reconciles a server snapshot with locally pending edits
// and replaces the cached list with the result. Per peer: a non-empty
// server last-message wins; otherwise the cached local value (a message
// observed since the last server sync) is retained, so a lagging server
// snapshot cannot erase it. Merging the same list twice yields the same
// snapshot.
func (s *Synchronizer) MergeFriendList(serverList []store.PeerSummary) ([]store.PeerSummary, error) {
	merged := make([]store.PeerSummary, 0, len(serverList))
	for _, sp := range serverList {
		cached, err := s.db.GetPeer(sp.PeerID)
		if err != nil {
			return nil, fmt.Errorf("merge friend list: %w", err)
		}
		m := sp
		if sp.LastMessage == "" && cached != nil && cached.LastMessage != "" {
			m.LastMessage = cached.LastMessage
			m.LastMessageAt = cached.LastMessageAt
		}
		merged = append(merged, m)
	}

	if err := s.db.ReplaceFriendList(merged); err != nil {
		return nil, fmt.Errorf("merge friend list: %w", err)
	}

	s.publish("friend.list_merged", len(merged))
	return merged, nil
}

// CachedFriendList returns the cached snapshot and whether it is past the
// validity window.
func (s *Synchronizer) CachedFriendList() ([]store.PeerSummary, bool, error) {
	list, err := s.db.FriendList()
	if err != nil {
		return nil, false, err
	}
	at, err := s.db.SnapshotUpdatedAt()
	if err != nil {
		return nil, false, err
	}
	stale := at.IsZero() || time.Since(at) > SnapshotValidity
	return list, stale, nil
}

// InvalidateFriendList drops the cached snapshot, forcing the next consumer
// to fetch from the server.
func (s *Synchronizer) InvalidateFriendList() error {
	if err := s.db.ClearFriendListSnapshot(); err != nil {
		return err
	}
	s.publish("friend.list_invalidated", nil)
	return nil
}

// NoteLastMessage records a locally observed message as the peer's last
// message. These pending edits survive the next merge until the server
// snapshot catches up.
func (s *Synchronizer) NoteLastMessage(peerID, content string, at int64) error {
	return s.db.SetLastMessage(peerID, content, at)
}

// AppendChatHistory adds messages to a peer's cached history; exact
// duplicates (same sender, receiver, content, timestamp) are dropped.
func (s *Synchronizer) AppendChatHistory(peerID string, msgs []store.Message) error {
	return s.db.AppendMessages(peerID, msgs)
}

// ChatHistory returns a peer's cached conversation sorted by timestamp.
func (s *Synchronizer) ChatHistory(peerID string) ([]store.Message, error) {
	return s.db.ChatHistory(peerID)
}

// IncrementUnread bumps the unread counter for a peer.
func (s *Synchronizer) IncrementUnread(peerID string) error {
	return s.db.IncrementUnread(peerID)
}

// ClearUnread zeroes the unread counter for a peer.
func (s *Synchronizer) ClearUnread(peerID string) error {
	return s.db.ClearUnread(peerID)
}

// Unread returns the unread count for a peer.
func (s *Synchronizer) Unread(peerID string) (int, error) {
	return s.db.Unread(peerID)
}

// OpenConversation marks a peer's conversation as the active one and clears
// its unread counter. Chat frames from the active peer do not count as
// unread and raise no notification.
func (s *Synchronizer) OpenConversation(peerID string) error {
	s.mu.Lock()
	s.activePeer = peerID
	s.mu.Unlock()
	if err := s.db.ClearUnread(peerID); err != nil {
		return err
	}
	s.publish("chat.conversation_opened", peerID)
	return nil
}

// CloseConversation clears the active-conversation mark if it still points
// at the given peer.
func (s *Synchronizer) CloseConversation(peerID string) {
	s.mu.Lock()
	if s.activePeer == peerID {
		s.activePeer = ""
	}
	s.mu.Unlock()
}

// ConversationOpen reports whether the peer's conversation is the active one.
func (s *Synchronizer) ConversationOpen(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return peerID != "" && s.activePeer == peerID
}

// SaveFriendRequest stores an inbound request keyed by peer; an existing
// record for the same peer is overwritten.
func (s *Synchronizer) SaveFriendRequest(r *store.FriendRequest) error {
	if err := s.db.SaveFriendRequest(r); err != nil {
		return err
	}
	s.publish("friend.request_received", r.PeerID)
	return nil
}

// FinalizeRequest transitions a pending request to a terminal status.
// Terminal records never transition again; a missing record is reported,
// not an error (the remote may decide on a request we never stored).
func (s *Synchronizer) FinalizeRequest(peerID string, status store.RequestStatus) (bool, error) {
	updated, err := s.db.SetRequestStatus(peerID, status)
	if err != nil {
		return false, err
	}
	if updated {
		s.publish("friend.request_"+string(status), peerID)
	} else {
		s.logger.Info("no pending friend request to finalize",
			zap.String("peer", peerID),
			zap.String("status", string(status)))
	}
	return updated, nil
}

// FriendRequests returns all stored requests, newest first.
func (s *Synchronizer) FriendRequests() ([]store.FriendRequest, error) {
	return s.db.FriendRequests()
}

// PendingRequestCount returns how many requests await a decision.
func (s *Synchronizer) PendingRequestCount() (int, error) {
	return s.db.PendingRequestCount()
}

// SaveProfile caches a peer's nickname and avatar reference.
func (s *Synchronizer) SaveProfile(peerID, nickname, avatarRef string) error {
	if nickname == "" {
		nickname = peerID
	}
	if err := s.db.SetKV(store.NicknameKey(peerID), nickname); err != nil {
		return err
	}
	if avatarRef == "" {
		return nil
	}
	return s.db.SetKV(store.AvatarKey(peerID), avatarRef)
}

// Nickname returns the cached nickname for a peer, falling back to the peer id.
func (s *Synchronizer) Nickname(peerID string) string {
	v, err := s.db.GetKV(store.NicknameKey(peerID))
	if err != nil || v == "" {
		return peerID
	}
	return v
}

// Avatar returns the cached avatar reference for a peer, empty when unknown.
func (s *Synchronizer) Avatar(peerID string) string {
	v, _ := s.db.GetKV(store.AvatarKey(peerID))
	return v
}

// PurgeAllPeerData removes every cached record referencing the peer:
// friend-list row, chat history, unread counter, nickname, avatar, stored
// friend request. Repeated calls are no-ops.
func (s *Synchronizer) PurgeAllPeerData(peerID string) error {
	s.CloseConversation(peerID)
	if err := s.db.PurgePeer(peerID); err != nil {
		return fmt.Errorf("purge peer data: %w", err)
	}
	s.publish("friend.purged", peerID)
	return nil
}

// SetSession stores the local peer identity and auth token.
func (s *Synchronizer) SetSession(localPeer, token string) error {
	if err := s.db.SetKV(store.KeyLocalPeer, localPeer); err != nil {
		return err
	}
	return s.db.SetKV(store.KeyAuthToken, token)
}

// AuthToken returns the stored auth token, ErrNoSession when logged out.
func (s *Synchronizer) AuthToken() (string, error) {
	tok, err := s.db.GetKV(store.KeyAuthToken)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrNoSession
	}
	return tok, nil
}

// LocalPeer returns the stored local peer id, ErrNoSession when logged out.
func (s *Synchronizer) LocalPeer() (string, error) {
	peer, err := s.db.GetKV(store.KeyLocalPeer)
	if err != nil {
		return "", err
	}
	if peer == "" {
		return "", ErrNoSession
	}
	return peer, nil
}

// ClearSession removes the stored identity and auth token. Used on forced
// logout; cached peer data is left in place for the next login.
func (s *Synchronizer) ClearSession() error {
	if err := s.db.RemoveKV(store.KeyAuthToken); err != nil {
		return err
	}
	if err := s.db.RemoveKV(store.KeyLocalPeer); err != nil {
		return err
	}
	s.publish("session.cleared", nil)
	return nil
}

func (s *Synchronizer) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
