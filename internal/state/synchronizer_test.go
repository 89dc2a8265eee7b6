package state

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/qlabs-dev/qchat/internal/bus"
	"github.com/qlabs-dev/qchat/internal/store"
	"go.uber.org/zap"
)

func testSync(t *testing.T) *Synchronizer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, bus.New(), zap.NewNop())
}

func TestMergeServerWins(t *testing.T) {
	s := testSync(t)

	// Locally pending edit for alice.
	if err := s.NoteLastMessage("alice", "local msg", 500); err != nil {
		t.Fatal(err)
	}

	server := []store.PeerSummary{
		{PeerID: "alice", DisplayName: "Alice", LastMessage: "server msg", LastMessageAt: 1000},
	}
	merged, err := s.MergeFriendList(server)
	if err != nil {
		t.Fatal(err)
	}
	if merged[0].LastMessage != "server msg" || merged[0].LastMessageAt != 1000 {
		t.Errorf("merged = %+v, want server value to win", merged[0])
	}
}

func TestMergePreservesPendingEdit(t *testing.T) {
	s := testSync(t)

	if err := s.NoteLastMessage("alice", "local msg", 500); err != nil {
		t.Fatal(err)
	}

	// Stale server snapshot with no last message for alice.
	server := []store.PeerSummary{
		{PeerID: "alice", DisplayName: "Alice"},
	}
	merged, err := s.MergeFriendList(server)
	if err != nil {
		t.Fatal(err)
	}
	if merged[0].LastMessage != "local msg" || merged[0].LastMessageAt != 500 {
		t.Errorf("merged = %+v, want local pending edit preserved", merged[0])
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := testSync(t)

	server := []store.PeerSummary{
		{PeerID: "alice", LastMessage: "a", LastMessageAt: 1},
		{PeerID: "bob", LastMessage: "", LastMessageAt: 0},
	}

	first, err := s.MergeFriendList(server)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.MergeFriendList(server)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("merge not idempotent:\nfirst  = %+v\nsecond = %+v", first, second)
	}

	cached, _, err := s.CachedFriendList()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cached %d peers, want 2", len(cached))
	}
}

func TestMergeDropsRemovedPeers(t *testing.T) {
	s := testSync(t)

	if _, err := s.MergeFriendList([]store.PeerSummary{{PeerID: "alice"}, {PeerID: "bob"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MergeFriendList([]store.PeerSummary{{PeerID: "alice"}}); err != nil {
		t.Fatal(err)
	}
	cached, _, _ := s.CachedFriendList()
	if len(cached) != 1 || cached[0].PeerID != "alice" {
		t.Errorf("cached = %+v, want only alice", cached)
	}
}

func TestSnapshotStaleness(t *testing.T) {
	s := testSync(t)

	// No snapshot yet: stale.
	_, stale, err := s.CachedFriendList()
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("empty cache should report stale")
	}

	if _, err := s.MergeFriendList([]store.PeerSummary{{PeerID: "alice"}}); err != nil {
		t.Fatal(err)
	}
	_, stale, err = s.CachedFriendList()
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("fresh snapshot should not be stale")
	}

	if err := s.InvalidateFriendList(); err != nil {
		t.Fatal(err)
	}
	list, stale, _ := s.CachedFriendList()
	if len(list) != 0 || !stale {
		t.Errorf("after invalidate: list=%v stale=%v, want empty and stale", list, stale)
	}
}

func TestUnreadFollowsConversationState(t *testing.T) {
	s := testSync(t)

	for i := 0; i < 2; i++ {
		if err := s.IncrementUnread("alice"); err != nil {
			t.Fatal(err)
		}
	}
	n, _ := s.Unread("alice")
	if n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}

	if err := s.OpenConversation("alice"); err != nil {
		t.Fatal(err)
	}
	if !s.ConversationOpen("alice") {
		t.Error("alice's conversation should be open")
	}
	if s.ConversationOpen("bob") {
		t.Error("bob's conversation should not be open")
	}
	n, _ = s.Unread("alice")
	if n != 0 {
		t.Errorf("unread after open = %d, want 0", n)
	}

	s.CloseConversation("alice")
	if s.ConversationOpen("alice") {
		t.Error("conversation should be closed")
	}

	// Closing a different peer does not clobber the active mark.
	if err := s.OpenConversation("alice"); err != nil {
		t.Fatal(err)
	}
	s.CloseConversation("bob")
	if !s.ConversationOpen("alice") {
		t.Error("closing bob should not close alice")
	}
}

func TestFinalizeRequestLifecycle(t *testing.T) {
	s := testSync(t)

	req := &store.FriendRequest{PeerID: "bob", DisplayName: "Bob", Note: "hi", ReceivedAt: 1, Status: store.StatusPending}
	if err := s.SaveFriendRequest(req); err != nil {
		t.Fatal(err)
	}

	updated, err := s.FinalizeRequest("bob", store.StatusRejected)
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Fatal("pending request should finalize")
	}

	// Terminal: re-accepting must not corrupt state.
	updated, err = s.FinalizeRequest("bob", store.StatusAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Error("terminal request should not transition again")
	}

	// Missing ancestor: reported as not-found, not an error.
	updated, err = s.FinalizeRequest("stranger", store.StatusRejected)
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Error("unknown peer should not report an update")
	}
}

func TestPurgeAllPeerData(t *testing.T) {
	s := testSync(t)

	if _, err := s.MergeFriendList([]store.PeerSummary{{PeerID: "bob", LastMessage: "x", LastMessageAt: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendChatHistory("bob", []store.Message{{Sender: "bob", Receiver: "me", Content: "x", Timestamp: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementUnread("bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFriendRequest(&store.FriendRequest{PeerID: "bob", Status: store.StatusPending}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfile("bob", "Bob", "http://example/a.png"); err != nil {
		t.Fatal(err)
	}
	if err := s.OpenConversation("bob"); err != nil {
		t.Fatal(err)
	}

	if err := s.PurgeAllPeerData("bob"); err != nil {
		t.Fatal(err)
	}

	list, _, _ := s.CachedFriendList()
	if len(list) != 0 {
		t.Error("friend-list entry survived purge")
	}
	if h, _ := s.ChatHistory("bob"); len(h) != 0 {
		t.Error("chat history survived purge")
	}
	if n, _ := s.Unread("bob"); n != 0 {
		t.Error("unread counter survived purge")
	}
	if reqs, _ := s.FriendRequests(); len(reqs) != 0 {
		t.Error("friend request survived purge")
	}
	if s.Nickname("bob") != "bob" {
		t.Error("nickname survived purge")
	}
	if s.Avatar("bob") != "" {
		t.Error("avatar survived purge")
	}
	if s.ConversationOpen("bob") {
		t.Error("conversation still open after purge")
	}

	// Idempotent.
	if err := s.PurgeAllPeerData("bob"); err != nil {
		t.Errorf("second purge error = %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testSync(t)

	if err := s.SetSession("bob", "tok-123"); err != nil {
		t.Fatal(err)
	}
	tok, err := s.AuthToken()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "tok-123" {
		t.Errorf("token = %q, want tok-123", tok)
	}
	peer, _ := s.LocalPeer()
	if peer != "bob" {
		t.Errorf("local peer = %q, want bob", peer)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatal(err)
	}
	tok, _ = s.AuthToken()
	peer, _ = s.LocalPeer()
	if tok != "" || peer != "" {
		t.Errorf("after clear: token=%q peer=%q, want empty", tok, peer)
	}
}

func TestMergePublishesEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	s := New(db, b, zap.NewNop())

	ch, unsub := b.Subscribe("friend.", 10)
	defer unsub()

	if _, err := s.MergeFriendList([]store.PeerSummary{{PeerID: "alice"}}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "friend.list_merged" {
			t.Errorf("event kind = %q, want friend.list_merged", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for friend.list_merged event")
	}
}
