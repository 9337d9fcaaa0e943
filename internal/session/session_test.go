package session

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetRoundTrip(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "session.db"))

	if got := s.Get(KeyRelayURL, "wss://fallback/"); got != "wss://fallback/" {
		t.Fatalf("expected fallback for unset key, got %q", got)
	}

	if err := s.Set(KeyRelayURL, "wss://relay.example/"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got := s.Get(KeyRelayURL, ""); got != "wss://relay.example/" {
		t.Fatalf("unexpected value: %q", got)
	}

	// Overwrite.
	if err := s.Set(KeyRelayURL, "wss://other.example/"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if got := s.Get(KeyRelayURL, ""); got != "wss://other.example/" {
		t.Fatalf("expected overwritten value, got %q", got)
	}
}

func TestBoolPreferences(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "session.db"))

	if !s.GetBool(KeyAutoUpdate, true) {
		t.Fatal("expected fallback true for unset key")
	}
	if err := s.SetBool(KeyAutoUpdate, false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if s.GetBool(KeyAutoUpdate, true) {
		t.Fatal("expected stored false to win over fallback")
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "session.db"))

	if err := s.Set(KeyCurrentChannel, "chan1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Delete(KeyCurrentChannel); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := s.Get(KeyCurrentChannel, "none"); got != "none" {
		t.Fatalf("expected fallback after delete, got %q", got)
	}
	if err := s.Delete("never-set"); err != nil {
		t.Fatalf("deleting an absent key should not error: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open session store: %v", err)
	}
	if err := s.Set(KeyRelayURL, "wss://kept.example/"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	s.Close()

	reopened := openTestStore(t, path)
	if got := reopened.Get(KeyRelayURL, ""); got != "wss://kept.example/" {
		t.Fatalf("expected persisted value, got %q", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("", nil); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}
