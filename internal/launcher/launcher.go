// Package launcher defines the capability the supervisor uses to drive
// the underlying node processes, plus the native child-process
// implementation. The supervisor never talks to processes directly.
package launcher

import (
	"context"
	"io"

	"github.com/formicaio/formicaiod/internal/types"
)

// SpawnResult reports what the launcher learned while bringing a node
// process up. Fields other than PID are best-effort and may be empty.
type SpawnResult struct {
	PID        uint32
	PeerID     string
	BinVersion string
	IPs        string
}

// NodeLauncher creates, starts, stops, deletes and extracts logs from
// the underlying node processes.
type NodeLauncher interface {
	// NewNode prepares the on-disk layout for a freshly created node.
	NewNode(ctx context.Context, info *types.NodeInstanceInfo) error
	// SpawnNode starts the node process.
	SpawnNode(ctx context.Context, info *types.NodeInstanceInfo) (SpawnResult, error)
	// KillNode stops the node process if it is running.
	KillNode(ctx context.Context, id types.NodeID) error
	// UpgradeNode stops the node, installs the current master binary and
	// restarts it.
	UpgradeNode(ctx context.Context, info *types.NodeInstanceInfo) (SpawnResult, error)
	// RegeneratePeerID rotates the node's key material and restarts it
	// with a fresh network identity.
	RegeneratePeerID(ctx context.Context, info *types.NodeInstanceInfo) (SpawnResult, error)
	// RemoveNodeDir deletes the node's data directory.
	RemoveNodeDir(info *types.NodeInstanceInfo) error
	// GetNodesList reports the node instances discoverable on disk with
	// their observed liveness.
	GetNodesList(ctx context.Context) ([]*types.NodeInstanceInfo, error)
	// NodeIdentity re-reads a node's identity from its on-disk state:
	// peer id from its key material, bin version from its binary copy.
	// Only the PeerID and BinVersion fields of the result are set.
	NodeIdentity(ctx context.Context, id types.NodeID) (SpawnResult, error)
	// LogsStream returns a follow-style reader over the node's log
	// output. The caller closes it to stop.
	LogsStream(ctx context.Context, id types.NodeID) (io.ReadCloser, error)
	// UpgradeMasterBinary fetches the newest published node binary
	// (or the given version) and returns the installed version string.
	UpgradeMasterBinary(ctx context.Context, version string) (string, error)
}
