package store

// RequestStatus is the lifecycle state of a stored friend request.
// Pending is the only non-terminal state.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether s permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// PeerSummary is a cached friend-list row.
type PeerSummary struct {
	PeerID        string
	DisplayName   string
	AvatarRef     string
	LastMessage   string
	LastMessageAt int64
}

// FriendRequest is a stored inbound friend request.
type FriendRequest struct {
	PeerID      string
	DisplayName string
	AvatarRef   string
	Note        string
	ReceivedAt  int64
	Status      RequestStatus
}

// Message is one cached chat-history entry. PeerID names the conversation
// (the remote peer); Sender/Receiver record direction.
type Message struct {
	ID        int64
	PeerID    string
	Sender    string
	Receiver  string
	Content   string
	Timestamp int64
}
