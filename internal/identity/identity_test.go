package identity

import (
	"os"
	"testing"
)

func TestNewKeepsDisplayName(t *testing.T) {
	p := New("Bob's Phone")
	if p.DisplayName != "Bob's Phone" {
		t.Errorf("DisplayName = %q; want %q", p.DisplayName, "Bob's Phone")
	}
	if p.ID == "" {
		t.Error("ID is empty")
	}
}

func TestNewFallsBackToHostname(t *testing.T) {
	p := New("   ")
	want := fallbackName
	if host, err := os.Hostname(); err == nil && host != "" {
		want = host
	}
	if p.DisplayName != want {
		t.Errorf("DisplayName = %q; want %q", p.DisplayName, want)
	}
}

// TestNewUniqueIDs generates many identities and checks for collisions.
func TestNewUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := New("x").ID
		if seen[id] {
			t.Fatalf("duplicate id %s after %d identities", id, i)
		}
		seen[id] = true
	}
}
