// Package profile resolves peer display data (nickname, avatar) from the
// platform's HTTP profile service.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Info is the resolved profile of a peer.
type Info struct {
	PeerID   string
	Nickname string
	Avatar   string
}

// Lookup resolves a peer's profile. Implementations must honor ctx.
type Lookup interface {
	Fetch(ctx context.Context, peerID string) (*Info, error)
}

// HTTPLookup queries GET {base}/getuser/{peer} on the profile service.
type HTTPLookup struct {
	base   string
	client *http.Client
}

func NewHTTPLookup(base string) *HTTPLookup {
	return &HTTPLookup{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type userPayload struct {
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
}

type getUserResponse struct {
	Code int `json:"code"`
	Data struct {
		User *userPayload `json:"user"`
	} `json:"data"`
}

func (h *HTTPLookup) Fetch(ctx context.Context, peerID string) (*Info, error) {
	endpoint := h.base + "/getuser/" + url.PathEscape(peerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", peerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned status %d for %s", resp.StatusCode, peerID)
	}

	var body getUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if body.Code != http.StatusOK || body.Data.User == nil {
		return nil, fmt.Errorf("profile service returned code %d for %s", body.Code, peerID)
	}

	u := body.Data.User
	return &Info{
		PeerID:   u.Username,
		Nickname: u.Nickname,
		Avatar:   u.AvatarURL,
	}, nil
}
