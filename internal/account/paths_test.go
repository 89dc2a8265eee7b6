package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".qchat", "accounts", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("test")
	if !strings.HasSuffix(got, filepath.Join("accounts", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix accounts/test/daemon.sock", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("accounts", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix accounts/test/LOCK", got)
	}
}

func TestCacheDBPath(t *testing.T) {
	got := CacheDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("accounts", "test", "qchat.db")) {
		t.Errorf("CacheDBPath(test) = %q, want suffix accounts/test/qchat.db", got)
	}
}
