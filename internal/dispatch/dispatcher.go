// Package dispatch routes decoded protocol envelopes to their handlers and
// composes the outbound frames for user-initiated operations. A single
// goroutine consumes inbound frames, so handlers run in receipt order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qlabs-dev/qchat/internal/metrics"
	"github.com/qlabs-dev/qchat/internal/profile"
	"github.com/qlabs-dev/qchat/internal/protocol"
	"github.com/qlabs-dev/qchat/internal/state"
	"github.com/qlabs-dev/qchat/internal/store"
)

// ErrNoPendingRequest is returned when accepting or rejecting a friend
// request that is absent or already finalized.
var ErrNoPendingRequest = errors.New("no pending friend request")

// systemSender marks platform announcements carried over the friend request
// kind. They are surfaced as notices and never persisted.
const systemSender = "system"

// refreshSettleDelay is how long after an accept the friend list is refreshed
// a second time, giving the server time to commit the new relation.
const refreshSettleDelay = time.Second

// Sender is the slice of the connection manager the dispatcher writes to.
type Sender interface {
	Send(payload string)
	Disconnect()
}

// Dispatcher consumes raw frames from the connection, decodes them, and
// applies each envelope kind's semantics against the synchronizer, the
// bridge, and the wire. It implements conn.Listener.
type Dispatcher struct {
	logger   *zap.Logger
	sender   Sender
	sync     *state.Synchronizer
	bridge   Bridge
	profiles profile.Lookup

	frames chan string
	stop   chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	running     bool
	settleTimer *time.Timer

	settleDelay time.Duration
}

func NewDispatcher(sender Sender, sy *state.Synchronizer, bridge Bridge, profiles profile.Lookup, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:      logger.Named("dispatch"),
		sender:      sender,
		sync:        sy,
		bridge:      bridge,
		profiles:    profiles,
		frames:      make(chan string, 256),
		settleDelay: refreshSettleDelay,
	}
}

// Start launches the frame loop. It is a no-op while already running.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
}

// Stop halts the frame loop and waits for the in-flight handler to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done

	d.mu.Lock()
	if d.settleTimer != nil {
		d.settleTimer.Stop()
		d.settleTimer = nil
	}
	d.mu.Unlock()
}

// scheduleSettledRefresh arms the delayed second refresh after an accept,
// replacing any earlier pending one.
func (d *Dispatcher) scheduleSettledRefresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settleTimer != nil {
		d.settleTimer.Stop()
	}
	d.settleTimer = time.AfterFunc(d.settleDelay, d.refreshFriendList)
}

func (d *Dispatcher) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case raw := <-d.frames:
			d.handle(raw)
		case <-stop:
			return
		}
	}
}

// Connected announces presence to the server after each successful
// handshake.
func (d *Dispatcher) Connected() {
	local, err := d.sync.LocalPeer()
	if err != nil {
		d.logger.Warn("skipping presence announce, no session", zap.Error(err))
		return
	}
	d.sendEnvelope(protocol.Compose(protocol.KindOnlineCheck, local, "server", "login"))
}

func (d *Dispatcher) Disconnected() {
	d.logger.Debug("connection lost")
}

func (d *Dispatcher) Error(msg string) {
	d.logger.Warn("connection error", zap.String("error", msg))
}

// Frame enqueues a raw inbound frame for the loop. When the buffer is full
// the frame is dropped rather than blocking the reader.
func (d *Dispatcher) Frame(raw string) {
	select {
	case d.frames <- raw:
	default:
		d.logger.Error("frame buffer full, dropping frame")
		metrics.FramesDropped.Inc()
	}
}

func (d *Dispatcher) handle(raw string) {
	env, err := protocol.Decode(raw)
	if err != nil {
		d.logger.Warn("dropping undecodable frame", zap.Error(err))
		metrics.FramesDropped.Inc()
		return
	}
	if env == nil {
		// Benign server noise.
		metrics.FramesDropped.Inc()
		return
	}
	if !env.Kind.Known() {
		d.logger.Warn("dropping frame with unknown kind", zap.Int("kind", int(env.Kind)))
		metrics.FramesDropped.Inc()
		return
	}
	metrics.FramesReceived.WithLabelValues(env.Kind.String()).Inc()

	switch env.Kind {
	case protocol.KindChat:
		d.handleChat(env)
	case protocol.KindFriendRequest:
		d.handleFriendRequest(env)
	case protocol.KindFriendAccept:
		d.handleFriendAccept(env)
	case protocol.KindFriendReject:
		d.handleFriendReject(env)
	case protocol.KindFriendDeleted:
		d.handleFriendDeleted(env)
	case protocol.KindForceOffline:
		d.handleForceOffline(env)
	case protocol.KindOnlineCheck:
		d.handleOnlineCheck()
	}
}

// addressedToUs reports whether a targeted envelope names the local peer.
// Envelopes without a target, or received before a session exists, pass.
func (d *Dispatcher) addressedToUs(env *protocol.Envelope) bool {
	if env.To == "" {
		return true
	}
	local, err := d.sync.LocalPeer()
	if err != nil {
		return true
	}
	return env.To == local
}

func (d *Dispatcher) handleChat(env *protocol.Envelope) {
	if !d.addressedToUs(env) {
		d.logger.Warn("ignoring chat for another peer",
			zap.String("from", env.From),
			zap.String("to", env.To))
		return
	}
	msg := store.Message{
		PeerID:    env.From,
		Sender:    env.From,
		Receiver:  env.To,
		Content:   env.Body,
		Timestamp: env.Timestamp,
	}
	if err := d.sync.AppendChatHistory(env.From, []store.Message{msg}); err != nil {
		d.logger.Error("failed to record inbound message", zap.Error(err))
	}
	if err := d.sync.NoteLastMessage(env.From, env.Body, env.Timestamp); err != nil {
		d.logger.Error("failed to update last message", zap.Error(err))
	}
	if d.sync.ConversationOpen(env.From) {
		return
	}
	if err := d.sync.IncrementUnread(env.From); err != nil {
		d.logger.Error("failed to bump unread counter", zap.Error(err))
	}
	d.bridge.ShowChatNotification(env.From, d.sync.Nickname(env.From), env.Body)
}

func (d *Dispatcher) handleFriendRequest(env *protocol.Envelope) {
	if env.From == systemSender {
		// Platform announcement, notice only.
		d.bridge.ShowFriendRequest(env.From, env.Body)
		return
	}
	if !d.addressedToUs(env) {
		d.logger.Warn("ignoring friend request for another peer",
			zap.String("from", env.From),
			zap.String("to", env.To))
		return
	}

	req := &store.FriendRequest{
		PeerID:     env.From,
		Note:       env.Body,
		ReceivedAt: env.Timestamp,
		Status:     store.StatusPending,
	}
	if info := d.fetchProfile(env.From); info != nil {
		req.DisplayName = info.Nickname
		req.AvatarRef = info.Avatar
		if err := d.sync.SaveProfile(env.From, info.Nickname, info.Avatar); err != nil {
			d.logger.Warn("failed to cache requester profile", zap.Error(err))
		}
	}
	if err := d.sync.SaveFriendRequest(req); err != nil {
		d.logger.Error("failed to save friend request", zap.Error(err))
		return
	}
	d.bridge.ShowFriendRequest(env.From, env.Body)
}

func (d *Dispatcher) handleFriendAccept(env *protocol.Envelope) {
	if info := d.fetchProfile(env.From); info != nil {
		if err := d.sync.SaveProfile(env.From, info.Nickname, info.Avatar); err != nil {
			d.logger.Warn("failed to cache new friend profile", zap.Error(err))
		}
	}
	d.bridge.ShowRequestOutcome(env.From, true)
	d.refreshFriendList()
	d.scheduleSettledRefresh()
}

func (d *Dispatcher) handleFriendReject(env *protocol.Envelope) {
	updated, err := d.sync.FinalizeRequest(env.From, store.StatusRejected)
	if err != nil {
		d.logger.Error("failed to finalize rejected request", zap.Error(err))
	} else if !updated {
		d.logger.Info("no pending request to reject", zap.String("peer", env.From))
	}
	d.bridge.ShowRequestOutcome(env.From, false)
}

// handleFriendDeleted purges the counterparty, whichever of from/to is not
// us. The server echoes our own deletions back, so a frame we originated
// must not purge us.
func (d *Dispatcher) handleFriendDeleted(env *protocol.Envelope) {
	peer := env.From
	peerInitiated := true
	if local, err := d.sync.LocalPeer(); err == nil && env.From == local {
		peer = env.To
		peerInitiated = false
	}
	if peer == "" {
		d.logger.Warn("friend deletion frame without a counterparty")
		return
	}
	if err := d.sync.PurgeAllPeerData(peer); err != nil {
		d.logger.Error("failed to purge deleted friend", zap.Error(err))
	}
	if peerInitiated {
		d.bridge.ShowFriendDeletedNotice(peer)
	}
	d.bridge.RefreshFriendList()
}

func (d *Dispatcher) handleForceOffline(env *protocol.Envelope) {
	d.logger.Warn("forced offline by server", zap.String("reason", env.Body))
	d.bridge.PromptForcedLogout(env.Body)
	d.sender.Disconnect()
	if err := d.sync.ClearSession(); err != nil {
		d.logger.Error("failed to clear session", zap.Error(err))
	}
}

func (d *Dispatcher) handleOnlineCheck() {
	local, err := d.sync.LocalPeer()
	if err != nil {
		d.logger.Warn("skipping online check reply, no session", zap.Error(err))
		return
	}
	d.sendEnvelope(protocol.Compose(protocol.KindOnlineCheck, local, "server", "online"))
}

// SendChatMessage composes and sends a chat frame and records it in local
// history. Delivery is at most once; the frame is dropped if the connection
// is down.
func (d *Dispatcher) SendChatMessage(peerID, body string) error {
	local, err := d.sync.LocalPeer()
	if err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	env := protocol.Compose(protocol.KindChat, local, peerID, body)
	if err := d.sendEnvelope(env); err != nil {
		return err
	}

	msg := store.Message{
		PeerID:    peerID,
		Sender:    local,
		Receiver:  peerID,
		Content:   body,
		Timestamp: env.Timestamp,
	}
	if err := d.sync.AppendChatHistory(peerID, []store.Message{msg}); err != nil {
		return fmt.Errorf("record sent message: %w", err)
	}
	if err := d.sync.NoteLastMessage(peerID, body, env.Timestamp); err != nil {
		return fmt.Errorf("record sent message: %w", err)
	}
	return nil
}

// SendFriendRequest asks peerID to become a friend.
func (d *Dispatcher) SendFriendRequest(peerID, note string) error {
	local, err := d.sync.LocalPeer()
	if err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	return d.sendEnvelope(protocol.Compose(protocol.KindFriendRequest, local, peerID, note))
}

// AcceptFriendRequest finalizes the stored request and notifies the peer.
// Returns ErrNoPendingRequest when there is nothing pending to accept.
func (d *Dispatcher) AcceptFriendRequest(peerID string) error {
	return d.finalizeRequest(peerID, store.StatusAccepted, protocol.KindFriendAccept)
}

// RejectFriendRequest finalizes the stored request and notifies the peer.
func (d *Dispatcher) RejectFriendRequest(peerID string) error {
	return d.finalizeRequest(peerID, store.StatusRejected, protocol.KindFriendReject)
}

func (d *Dispatcher) finalizeRequest(peerID string, status store.RequestStatus, kind protocol.Kind) error {
	updated, err := d.sync.FinalizeRequest(peerID, status)
	if err != nil {
		return fmt.Errorf("finalize friend request: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w from %s", ErrNoPendingRequest, peerID)
	}

	local, err := d.sync.LocalPeer()
	if err != nil {
		return fmt.Errorf("finalize friend request: %w", err)
	}
	if err := d.sendEnvelope(protocol.Compose(kind, local, peerID, "")); err != nil {
		return err
	}

	if status == store.StatusAccepted {
		d.refreshFriendList()
		d.scheduleSettledRefresh()
	}
	return nil
}

// DeleteFriend purges every local trace of a peer and, when notifyPeer is
// set, tells them over the wire.
func (d *Dispatcher) DeleteFriend(peerID string, notifyPeer bool) error {
	if notifyPeer {
		local, err := d.sync.LocalPeer()
		if err != nil {
			return fmt.Errorf("delete friend: %w", err)
		}
		if err := d.sendEnvelope(protocol.Compose(protocol.KindFriendDeleted, local, peerID, "")); err != nil {
			return err
		}
	}
	if err := d.sync.PurgeAllPeerData(peerID); err != nil {
		return fmt.Errorf("delete friend: %w", err)
	}
	d.bridge.RefreshFriendList()
	return nil
}

func (d *Dispatcher) refreshFriendList() {
	if err := d.sync.InvalidateFriendList(); err != nil {
		d.logger.Error("failed to invalidate friend list snapshot", zap.Error(err))
	}
	d.bridge.RefreshFriendList()
}

func (d *Dispatcher) sendEnvelope(env *protocol.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	d.sender.Send(raw)
	return nil
}

// fetchProfile resolves a peer's profile best effort. A lookup failure is
// logged and yields nil.
func (d *Dispatcher) fetchProfile(peerID string) *profile.Info {
	if d.profiles == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := d.profiles.Fetch(ctx, peerID)
	if err != nil {
		d.logger.Warn("profile lookup failed",
			zap.String("peer", peerID),
			zap.Error(err))
		return nil
	}
	return info
}
