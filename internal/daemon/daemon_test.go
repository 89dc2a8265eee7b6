package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qlabs-dev/qchat/internal/bus"
	"github.com/qlabs-dev/qchat/internal/config"
	"github.com/qlabs-dev/qchat/internal/conn"
	"github.com/qlabs-dev/qchat/internal/dispatch"
	"github.com/qlabs-dev/qchat/internal/state"
	"github.com/qlabs-dev/qchat/internal/store"
)

type nopSender struct{}

func (nopSender) Send(string) {}
func (nopSender) Disconnect() {}

type testDaemon struct {
	client *http.Client
	sync   *state.Synchronizer
}

// startTestDaemon wires a real server over a short-lived Unix socket, with
// the wire replaced by a no-op sender.
func startTestDaemon(t *testing.T) *testDaemon {
	t.Helper()

	// Short path to stay under the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "qchat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "qchat.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	b := bus.New()
	sy := state.New(db, b, logger)
	if err := sy.SetSession("me", "token-1"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	mgr := conn.NewManager(b, logger)
	disp := dispatch.NewDispatcher(nopSender{}, sy, dispatch.NewBusBridge(b), nil, logger)

	srv, err := NewServer(Params{Account: "test", SocketPath: socketPath}, config.Default(), mgr, sy, disp, b, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	// Wait until the socket is being served.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := client.Get("http://qchat/v1/status"); err == nil {
			resp.Body.Close()
			return &testDaemon{client: client, sync: sy}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("control server did not come up")
	return nil
}

func (d *testDaemon) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, "http://qchat"+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	var resp statusResponse
	if code := d.do(t, http.MethodGet, "/v1/status", nil, &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.Account != "test" || resp.ConnState != "disconnected" || resp.LocalPeer != "me" {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if !resp.FriendListStale {
		t.Fatal("expected stale friend list before first merge")
	}
}

func TestFriendMergeAndList(t *testing.T) {
	d := startTestDaemon(t)

	snapshot := []friendEntry{
		{PeerID: "alice", DisplayName: "Alice", LastMessage: "hey", LastMessageAt: 100},
		{PeerID: "bob"},
	}
	var merged friendListResponse
	if code := d.do(t, http.MethodPost, "/v1/friends", snapshot, &merged); code != http.StatusOK {
		t.Fatalf("merge code = %d", code)
	}
	if len(merged.Friends) != 2 {
		t.Fatalf("merged %d friends, want 2", len(merged.Friends))
	}

	var list friendListResponse
	if code := d.do(t, http.MethodGet, "/v1/friends", nil, &list); code != http.StatusOK {
		t.Fatalf("list code = %d", code)
	}
	if list.Stale {
		t.Fatal("list stale right after merge")
	}
	if list.Friends[0].PeerID != "alice" {
		t.Fatalf("unexpected ordering: %+v", list.Friends)
	}
}

func TestRequestLifecycleOverAPI(t *testing.T) {
	d := startTestDaemon(t)
	if err := d.sync.SaveFriendRequest(&store.FriendRequest{
		PeerID: "carol", Note: "hi", ReceivedAt: 1, Status: store.StatusPending,
	}); err != nil {
		t.Fatal(err)
	}

	if code := d.do(t, http.MethodPost, "/v1/requests/carol/accept", nil, nil); code != http.StatusNoContent {
		t.Fatalf("accept code = %d", code)
	}
	// Finalized requests cannot be finalized again.
	if code := d.do(t, http.MethodPost, "/v1/requests/carol/accept", nil, nil); code != http.StatusConflict {
		t.Fatalf("duplicate accept code = %d, want 409", code)
	}
	if code := d.do(t, http.MethodPost, "/v1/requests/carol/reject", nil, nil); code != http.StatusConflict {
		t.Fatalf("reject after accept code = %d, want 409", code)
	}

	var reqs []requestEntry
	if code := d.do(t, http.MethodGet, "/v1/requests", nil, &reqs); code != http.StatusOK {
		t.Fatalf("list code = %d", code)
	}
	if len(reqs) != 1 || reqs[0].Status != "accepted" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
}

func TestChatSendHistoryAndUnread(t *testing.T) {
	d := startTestDaemon(t)

	if code := d.do(t, http.MethodPost, "/v1/chats/alice", sendChatBody{Body: "hi"}, nil); code != http.StatusAccepted {
		t.Fatalf("send code = %d", code)
	}

	var hist []messageEntry
	if code := d.do(t, http.MethodGet, "/v1/chats/alice", nil, &hist); code != http.StatusOK {
		t.Fatalf("history code = %d", code)
	}
	if len(hist) != 1 || hist[0].Sender != "me" || hist[0].Content != "hi" {
		t.Fatalf("unexpected history: %+v", hist)
	}

	if err := d.sync.IncrementUnread("alice"); err != nil {
		t.Fatal(err)
	}
	var unread unreadResponse
	if code := d.do(t, http.MethodGet, "/v1/unread/alice", nil, &unread); code != http.StatusOK {
		t.Fatalf("unread code = %d", code)
	}
	if unread.Count != 1 {
		t.Fatalf("unread = %d, want 1", unread.Count)
	}

	if code := d.do(t, http.MethodPost, "/v1/chats/alice/open", nil, nil); code != http.StatusNoContent {
		t.Fatalf("open code = %d", code)
	}
	d.do(t, http.MethodGet, "/v1/unread/alice", nil, &unread)
	if unread.Count != 0 {
		t.Fatalf("unread after open = %d, want 0", unread.Count)
	}
	if code := d.do(t, http.MethodPost, "/v1/chats/alice/close", nil, nil); code != http.StatusNoContent {
		t.Fatalf("close code = %d", code)
	}
}

func TestChatSendRejectsEmptyBody(t *testing.T) {
	d := startTestDaemon(t)

	if code := d.do(t, http.MethodPost, "/v1/chats/alice", sendChatBody{}, nil); code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", code)
	}
}

func TestSocketPermissions(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "qchat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "qchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	sy := state.New(db, b, logger)
	mgr := conn.NewManager(b, logger)
	disp := dispatch.NewDispatcher(nopSender{}, sy, dispatch.NewBusBridge(b), nil, logger)

	srv, err := NewServer(Params{Account: "perm", SocketPath: socketPath}, config.Default(), mgr, sy, disp, b, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("socket perm = %o, want 0600", perm)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	d := startTestDaemon(t)

	resp, err := d.client.Get("http://qchat/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
}
