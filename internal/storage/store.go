// Package storage defines the persistence contract consumed by the
// supervisor. The production implementation lives in the sqlite
// subpackage; tests use it with an in-memory database.
package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/formicaio/formicaiod/internal/types"
)

// ErrNotFound is returned when a node id has no persisted record.
var ErrNotFound = errors.New("node not found")

// ErrAlreadyBatched is returned when an action is attempted on a node
// whose status is locked by a scheduled batch.
var ErrAlreadyBatched = errors.New("node is part of a scheduled batch")

// Store is the persistent registry of nodes, their historic metrics,
// the application settings and the payments history.
type Store interface {
	// Nodes
	GetNodesList(ctx context.Context) (map[types.NodeID]*types.NodeInstanceInfo, error)
	// GetNodeMetadata loads the persisted record for info.NodeID and
	// merges it onto info: persisted non-empty/non-zero fields overwrite
	// the argument, empty persisted fields leave the argument alone.
	GetNodeMetadata(ctx context.Context, info *types.NodeInstanceInfo) error
	InsertNodeMetadata(ctx context.Context, info *types.NodeInstanceInfo) error
	// UpdateNodeMetadata persists the non-zero fields of info, falling
	// back to an insert when no row existed.
	UpdateNodeMetadata(ctx context.Context, info *types.NodeInstanceInfo) error
	DeleteNodeMetadata(ctx context.Context, id types.NodeID) error
	// UpdateNodeStatus persists the status and stamps status_changed
	// with the current time.
	UpdateNodeStatus(ctx context.Context, id types.NodeID, status types.NodeStatus) error
	UpdateNodePID(ctx context.Context, id types.NodeID, pid uint32) error
	// ClearNodeRuntime zeroes the fields that only hold while the node
	// process runs (pid, observed host IPs).
	ClearNodeRuntime(ctx context.Context, id types.NodeID) error
	UpdateNodeBalance(ctx context.Context, id types.NodeID, balance *big.Int) error

	// CheckNodeIsNotBatched returns the node's record, or
	// ErrAlreadyBatched when its persistent lock bit is set.
	CheckNodeIsNotBatched(ctx context.Context, id types.NodeID) (*types.NodeInstanceInfo, error)
	SetNodeStatusToLocked(ctx context.Context, id types.NodeID) error
	UnlockNodeStatus(ctx context.Context, id types.NodeID) error

	// Metrics time series
	StoreNodeMetrics(ctx context.Context, id types.NodeID, metrics []types.NodeMetric) error
	// GetNodeMetrics returns samples per key, time-ascending. A sinceMs
	// value > 0 restricts to samples newer than that timestamp.
	GetNodeMetrics(ctx context.Context, id types.NodeID, sinceMs int64) (types.Metrics, error)
	// RemoveOldestMetrics keeps only the keepN most recent distinct
	// timestamps for the node.
	RemoveOldestMetrics(ctx context.Context, id types.NodeID, keepN uint64) error
	DeleteNodeMetrics(ctx context.Context, id types.NodeID) error

	// Settings and payments
	GetSettings(ctx context.Context) (types.AppSettings, error)
	UpdateSettings(ctx context.Context, settings *types.AppSettings) error
	InsertPayment(ctx context.Context, p types.Payment) error
	GetPayments(ctx context.Context) ([]types.Payment, error)

	Close() error
}
