package dispatch

import (
	"time"

	"github.com/qlabs-dev/qchat/internal/bus"
)

// Bridge delivers user-facing signals to whatever front end is attached to
// the daemon. Implementations must not block.
type Bridge interface {
	ShowChatNotification(peerID, nickname, preview string)
	ShowFriendRequest(peerID, note string)
	ShowRequestOutcome(peerID string, accepted bool)
	ShowFriendDeletedNotice(peerID string)
	RefreshFriendList()
	PromptForcedLogout(reason string)
}

// ChatNotice is the payload of a notify.chat event.
type ChatNotice struct {
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
	Preview  string `json:"preview"`
}

// RequestNotice is the payload of notify.friend_request and
// notify.request_outcome events.
type RequestNotice struct {
	PeerID   string `json:"peer_id"`
	Note     string `json:"note,omitempty"`
	Accepted bool   `json:"accepted,omitempty"`
}

// BusBridge publishes bridge signals as events on the process bus, where the
// control API's event stream picks them up.
type BusBridge struct {
	events *bus.Bus
}

func NewBusBridge(events *bus.Bus) *BusBridge {
	return &BusBridge{events: events}
}

func (b *BusBridge) publish(kind string, payload any) {
	b.events.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (b *BusBridge) ShowChatNotification(peerID, nickname, preview string) {
	b.publish("notify.chat", ChatNotice{PeerID: peerID, Nickname: nickname, Preview: preview})
}

func (b *BusBridge) ShowFriendRequest(peerID, note string) {
	b.publish("notify.friend_request", RequestNotice{PeerID: peerID, Note: note})
}

func (b *BusBridge) ShowRequestOutcome(peerID string, accepted bool) {
	b.publish("notify.request_outcome", RequestNotice{PeerID: peerID, Accepted: accepted})
}

func (b *BusBridge) ShowFriendDeletedNotice(peerID string) {
	b.publish("notify.friend_deleted", RequestNotice{PeerID: peerID})
}

func (b *BusBridge) RefreshFriendList() {
	b.publish("friend.refresh_requested", nil)
}

func (b *BusBridge) PromptForcedLogout(reason string) {
	b.publish("session.forced_logout", reason)
}
