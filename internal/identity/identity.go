// Package identity generates the local peer identity for a running instance.
package identity

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// fallbackName is used when neither a display name nor a host name is available.
const fallbackName = "peer"

// LocalPeer identifies this process instance to other peers.
// It is created once at startup and never changes.
type LocalPeer struct {
	ID          string
	DisplayName string
}

// New returns a LocalPeer with a fresh random identifier.
// An empty displayName falls back to the host name.
func New(displayName string) LocalPeer {
	return LocalPeer{
		ID:          uuid.New().String(),
		DisplayName: resolveName(displayName),
	}
}

// String returns "name (id)" for logging.
func (p LocalPeer) String() string {
	return p.DisplayName + " (" + p.ID + ")"
}

func resolveName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackName
}
