package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the protocol event carried by an envelope.
type Kind int

const (
	KindChat          Kind = 1
	KindFriendRequest Kind = 2
	KindFriendAccept  Kind = 3
	KindFriendReject  Kind = 4
	KindFriendDeleted Kind = 5
	KindForceOffline  Kind = 6
	KindOnlineCheck   Kind = 7
)

// Known reports whether k is one of the recognized protocol kinds.
func (k Kind) Known() bool {
	return k >= KindChat && k <= KindOnlineCheck
}

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindFriendRequest:
		return "friend_request"
	case KindFriendAccept:
		return "friend_accept"
	case KindFriendReject:
		return "friend_reject"
	case KindFriendDeleted:
		return "friend_deleted"
	case KindForceOffline:
		return "force_offline"
	case KindOnlineCheck:
		return "online_check"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Envelope is a single wire event. The server speaks plain JSON text frames:
//
//	{"system":1,"user":"alice","targetname":"bob","message":"hi","timestamp":1700000000000}
//
// Timestamp is unix milliseconds.
type Envelope struct {
	Kind      Kind   `json:"system"`
	From      string `json:"user"`
	To        string `json:"targetname"`
	Body      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// rawEnvelope mirrors Envelope with pointer fields so Decode can tell a
// missing field apart from a zero value.
type rawEnvelope struct {
	Kind      *int    `json:"system"`
	From      *string `json:"user"`
	To        string  `json:"targetname"`
	Body      string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

// Decode parses a raw text frame into an Envelope.
//
// The server occasionally emits benign control noise ("Invalid system type."
// and friends, or blank keepalive frames); those yield (nil, nil) and are
// meant to be dropped without logging an error. A nil envelope with a nil
// error means "nothing to dispatch".
func Decode(raw string) (*Envelope, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "Invalid system type." || strings.Contains(trimmed, "Invalid") {
		return nil, nil
	}

	var r rawEnvelope
	if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if r.Kind == nil || r.From == nil {
		return nil, fmt.Errorf("decode frame: missing system or user field")
	}

	env := &Envelope{
		Kind:      Kind(*r.Kind),
		From:      *r.From,
		To:        r.To,
		Body:      r.Body,
		Timestamp: r.Timestamp,
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	return env, nil
}

// Compose builds an outbound envelope stamped with the current time.
func Compose(kind Kind, from, to, body string) *Envelope {
	return &Envelope{
		Kind:      kind,
		From:      from,
		To:        to,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return string(data), nil
}
