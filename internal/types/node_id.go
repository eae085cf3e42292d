// Package types defines the domain model shared across the supervisor:
// node records and statuses, filters, batches, metrics, settings and
// aggregated stats.
package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// NodeIDLength is the number of hex characters in a system-generated
// node id. Launchers may report longer ids (e.g. 64-char container ids);
// those are accepted as-is.
const NodeIDLength = 12

// NodeID identifies one supervised node instance. It is an opaque
// lowercase hex string, sortable as text.
type NodeID string

// NewNodeID generates a fresh random node id of NodeIDLength hex chars.
func NewNodeID() NodeID {
	buf := make([]byte, NodeIDLength/2)
	_, _ = rand.Read(buf)
	return NodeID(hex.EncodeToString(buf))
}

// ParseNodeID validates a node id received from an external caller.
func ParseNodeID(s string) (NodeID, error) {
	if len(s) < NodeIDLength {
		return "", fmt.Errorf("invalid node id %q: expected at least %d hex chars", s, NodeIDLength)
	}
	if _, err := hex.DecodeString(strings.ToLower(s)); err != nil {
		return "", fmt.Errorf("invalid node id %q: not hex-encoded", s)
	}
	return NodeID(strings.ToLower(s)), nil
}

// Short returns the first NodeIDLength characters, used for display and
// for matching metrics rows written under a truncated id.
func (id NodeID) Short() string {
	if len(id) <= NodeIDLength {
		return string(id)
	}
	return string(id[:NodeIDLength])
}

func (id NodeID) String() string { return string(id) }
