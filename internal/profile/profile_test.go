package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchResolvesProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/getuser/alice" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"data":{"user":{"username":"alice","nickname":"Alice","avatarUrl":"https://cdn.example/a.png"}}}`))
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL + "/api/")
	info, err := l.Fetch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if info.PeerID != "alice" || info.Nickname != "Alice" || info.Avatar != "https://cdn.example/a.png" {
		t.Fatalf("unexpected profile: %+v", info)
	}
}

func TestFetchServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":404,"data":{}}`))
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL)
	if _, err := l.Fetch(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for non-200 service code")
	}
}

func TestFetchHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL)
	if _, err := l.Fetch(context.Background(), "alice"); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestFetchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	l := NewHTTPLookup(srv.URL)
	if _, err := l.Fetch(ctx, "alice"); err == nil {
		t.Fatal("expected context deadline error")
	}
}
