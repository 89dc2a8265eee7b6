package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qlabs-dev/qchat/internal/account"
	"github.com/qlabs-dev/qchat/internal/bus"
	"github.com/qlabs-dev/qchat/internal/config"
	"github.com/qlabs-dev/qchat/internal/conn"
	"github.com/qlabs-dev/qchat/internal/dispatch"
	"github.com/qlabs-dev/qchat/internal/state"
	"github.com/qlabs-dev/qchat/internal/store"
)

// Server exposes the daemon's control API over the account's Unix domain
// socket: session login/logout, friend list, requests, chat history, and an
// event stream for front-ends.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	acct   string
	cfg    *config.Config
	mgr    *conn.Manager
	sync   *state.Synchronizer
	disp   *dispatch.Dispatcher
	events *bus.Bus
}

// NewServer creates the control server bound to the account's socket.
func NewServer(p Params, cfg *config.Config, mgr *conn.Manager, sy *state.Synchronizer, disp *dispatch.Dispatcher, events *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = account.SocketPath(p.Account)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger.Named("api"),
		acct:       p.Account,
		cfg:        cfg,
		mgr:        mgr,
		sync:       sy,
		disp:       disp,
		events:     events,
	}
	s.httpServer = &http.Server{Handler: s.routes()}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/v1/status", s.handleStatus)

	r.Post("/v1/session", s.handleLogin)
	r.Delete("/v1/session", s.handleLogout)

	r.Get("/v1/friends", s.handleFriendList)
	r.Post("/v1/friends", s.handleFriendMerge)
	r.Post("/v1/friends/refresh", s.handleFriendRefresh)
	r.Delete("/v1/friends/{peer}", s.handleFriendDelete)

	r.Get("/v1/requests", s.handleRequestList)
	r.Post("/v1/requests", s.handleRequestSend)
	r.Post("/v1/requests/{peer}/accept", s.handleRequestAccept)
	r.Post("/v1/requests/{peer}/reject", s.handleRequestReject)

	r.Get("/v1/chats/{peer}", s.handleChatHistory)
	r.Post("/v1/chats/{peer}", s.handleChatSend)
	r.Post("/v1/chats/{peer}/open", s.handleChatOpen)
	r.Post("/v1/chats/{peer}/close", s.handleChatClose)
	r.Get("/v1/unread/{peer}", s.handleUnread)

	r.Get("/v1/events", s.handleEvents)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	_ = os.Remove(s.socketPath)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

type statusResponse struct {
	Account         string `json:"account"`
	ConnState       string `json:"conn_state"`
	LocalPeer       string `json:"local_peer,omitempty"`
	PendingRequests int    `json:"pending_requests"`
	FriendListStale bool   `json:"friend_list_stale"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Account:   s.acct,
		ConnState: s.mgr.State().String(),
	}
	if peer, err := s.sync.LocalPeer(); err == nil {
		resp.LocalPeer = peer
	}
	if n, err := s.sync.PendingRequestCount(); err == nil {
		resp.PendingRequests = n
	}
	if _, stale, err := s.sync.CachedFriendList(); err == nil {
		resp.FriendListStale = stale
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type loginRequest struct {
	PeerID string `json:"peer_id"`
	Token  string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PeerID == "" || req.Token == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("peer_id and token are required"))
		return
	}
	if err := s.sync.SetSession(req.PeerID, req.Token); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.mgr.Connect(s.cfg.ServerURL, req.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mgr.Disconnect()
	if err := s.sync.ClearSession(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type friendEntry struct {
	PeerID        string `json:"peer_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	Unread        int    `json:"unread"`
}

type friendListResponse struct {
	Friends []friendEntry `json:"friends"`
	Stale   bool          `json:"stale"`
}

func (s *Server) friendEntries(peers []store.PeerSummary) []friendEntry {
	out := make([]friendEntry, 0, len(peers))
	for _, p := range peers {
		e := friendEntry{
			PeerID:        p.PeerID,
			DisplayName:   p.DisplayName,
			Avatar:        p.AvatarRef,
			LastMessage:   p.LastMessage,
			LastMessageAt: p.LastMessageAt,
		}
		if n, err := s.sync.Unread(p.PeerID); err == nil {
			e.Unread = n
		}
		out = append(out, e)
	}
	return out
}

func (s *Server) handleFriendList(w http.ResponseWriter, r *http.Request) {
	peers, stale, err := s.sync.CachedFriendList()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, friendListResponse{Friends: s.friendEntries(peers), Stale: stale})
}

// handleFriendMerge accepts a server-side friend list snapshot from the
// front-end (which owns the platform HTTP session) and reconciles it with
// the local cache.
func (s *Server) handleFriendMerge(w http.ResponseWriter, r *http.Request) {
	var snapshot []friendEntry
	if !s.decode(w, r, &snapshot) {
		return
	}
	serverList := make([]store.PeerSummary, 0, len(snapshot))
	for _, e := range snapshot {
		serverList = append(serverList, store.PeerSummary{
			PeerID:        e.PeerID,
			DisplayName:   e.DisplayName,
			AvatarRef:     e.Avatar,
			LastMessage:   e.LastMessage,
			LastMessageAt: e.LastMessageAt,
		})
	}
	merged, err := s.sync.MergeFriendList(serverList)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, friendListResponse{Friends: s.friendEntries(merged)})
}

// handleFriendRefresh drops the snapshot and asks front-ends to refetch.
func (s *Server) handleFriendRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.InvalidateFriendList(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.events.Publish(bus.Event{Kind: "friend.refresh_requested", Timestamp: time.Now()})
	w.WriteHeader(http.StatusNoContent)
}

// handleFriendDelete removes a friend; ?notify=false skips the wire
// notification and only purges locally.
func (s *Server) handleFriendDelete(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")
	notify := r.URL.Query().Get("notify") != "false"
	if err := s.disp.DeleteFriend(peer, notify); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestEntry struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Note        string `json:"note,omitempty"`
	ReceivedAt  int64  `json:"received_at"`
	Status      string `json:"status"`
}

func (s *Server) handleRequestList(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.sync.FriendRequests()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]requestEntry, 0, len(reqs))
	for _, q := range reqs {
		out = append(out, requestEntry{
			PeerID:      q.PeerID,
			DisplayName: q.DisplayName,
			Avatar:      q.AvatarRef,
			Note:        q.Note,
			ReceivedAt:  q.ReceivedAt,
			Status:      string(q.Status),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type sendRequestBody struct {
	PeerID string `json:"peer_id"`
	Note   string `json:"note"`
}

func (s *Server) handleRequestSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequestBody
	if !s.decode(w, r, &req) {
		return
	}
	if req.PeerID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("peer_id is required"))
		return
	}
	if err := s.disp.SendFriendRequest(req.PeerID, req.Note); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Fire and forget on the wire.
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRequestAccept(w http.ResponseWriter, r *http.Request) {
	s.finalizeRequest(w, chi.URLParam(r, "peer"), s.disp.AcceptFriendRequest)
}

func (s *Server) handleRequestReject(w http.ResponseWriter, r *http.Request) {
	s.finalizeRequest(w, chi.URLParam(r, "peer"), s.disp.RejectFriendRequest)
}

func (s *Server) finalizeRequest(w http.ResponseWriter, peer string, op func(string) error) {
	err := op(peer)
	switch {
	case errors.Is(err, dispatch.ErrNoPendingRequest):
		s.writeError(w, http.StatusConflict, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type messageEntry struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")
	msgs, err := s.sync.ChatHistory(peer)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]messageEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageEntry{
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type sendChatBody struct {
	Body string `json:"body"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")
	var req sendChatBody
	if !s.decode(w, r, &req) {
		return
	}
	if req.Body == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("body is required"))
		return
	}
	if err := s.disp.SendChatMessage(peer, req.Body); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleChatOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.OpenConversation(chi.URLParam(r, "peer")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatClose(w http.ResponseWriter, r *http.Request) {
	s.sync.CloseConversation(chi.URLParam(r, "peer"))
	w.WriteHeader(http.StatusNoContent)
}

type unreadResponse struct {
	PeerID string `json:"peer_id"`
	Count  int    `json:"count"`
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")
	n, err := s.sync.Unread(peer)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, unreadResponse{PeerID: peer, Count: n})
}

type eventEntry struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// handleEvents streams bus events to the client as newline-delimited JSON.
// An optional ?prefix= filters by event namespace.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, cancel := s.events.Subscribe(r.URL.Query().Get("prefix"), 64)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case evt := <-ch:
			if err := enc.Encode(eventEntry{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: evt.Payload}); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
