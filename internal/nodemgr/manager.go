// Package nodemgr implements the node action layer: every user-facing
// lifecycle operation on a node instance goes through the NodeManager,
// which serialises conflicting actions with a ttl lock table, drives
// the launcher, and keeps the store and metrics cache coherent.
package nodemgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/launcher"
	"github.com/formicaio/formicaiod/internal/ledger"
	"github.com/formicaio/formicaiod/internal/locktable"
	"github.com/formicaio/formicaiod/internal/metrics"
	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/types"
)

const (
	// actionLockTTL bounds how long a regular action (start, stop,
	// recycle) can hold a node's status immutable.
	actionLockTTL = 20 * time.Second
	// upgradeLockTTL bounds an upgrade, which downloads a binary and
	// waits for the node to come back up.
	upgradeLockTTL = 8 * time.Minute
)

// Commander hands balance-related work to the background task runner
// without blocking the action path.
type Commander interface {
	// CheckBalanceFor schedules a balance query for the node's rewards
	// address.
	CheckBalanceFor(info *types.NodeInstanceInfo)
	// DeleteBalanceFor drops any memoised balance for the node.
	DeleteBalanceFor(info *types.NodeInstanceInfo)
}

// NodeManager coordinates lifecycle actions on node instances.
type NodeManager struct {
	store    storage.Store
	locks    *locktable.LockTable
	cache    *metrics.Cache
	launcher launcher.NodeLauncher
	bus      *eventbus.Bus
	binVers  *BinVersionCell
	logger   *slog.Logger

	cmds Commander

	now func() time.Time
}

// New builds a NodeManager. The Commander is attached later with
// SetCommander since the background task runner is constructed on top
// of the manager.
func New(store storage.Store, locks *locktable.LockTable, cache *metrics.Cache,
	l launcher.NodeLauncher, bus *eventbus.Bus, binVers *BinVersionCell, logger *slog.Logger,
) *NodeManager {
	return &NodeManager{
		store:    store,
		locks:    locks,
		cache:    cache,
		launcher: l,
		bus:      bus,
		binVers:  binVers,
		logger:   logger,
		now:      time.Now,
	}
}

// SetCommander attaches the background command sink.
func (m *NodeManager) SetCommander(c Commander) { m.cmds = c }

// Locks exposes the lock table to the batch runner.
func (m *NodeManager) Locks() *locktable.LockTable { return m.locks }

// BinVersions exposes the shared binary version cell.
func (m *NodeManager) BinVersions() *BinVersionCell { return m.binVers }

// CreateNode validates the options, persists a new node record in the
// created state, prepares its on-disk layout and optionally starts it.
func (m *NodeManager) CreateNode(ctx context.Context, opts types.NodeOpts) (*types.NodeInstanceInfo, error) {
	addr, err := ledger.ValidateRewardsAddr(opts.RewardsAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if opts.Port == 0 || opts.MetricsPort == 0 {
		return nil, fmt.Errorf("%w: node port and metrics port are required", ErrInvalidInput)
	}

	id := types.NewNodeID()
	info := types.NewNodeInstanceInfo(id)
	info.Created = uint64(m.now().Unix())
	info.StatusChanged = info.Created
	info.NodeIP = opts.NodeIP
	info.Port = opts.Port
	info.MetricsPort = opts.MetricsPort
	info.RewardsAddr = addr
	info.UPnP = opts.UPnP
	info.ReachabilityCheck = opts.ReachabilityCheck
	info.NodeLogs = opts.NodeLogs
	info.AutoStart = opts.AutoStart
	info.DataDirPath = opts.DataDirPath

	if err := m.launcher.NewNode(ctx, info); err != nil {
		return nil, &LauncherError{Err: err}
	}
	if err := m.store.InsertNodeMetadata(ctx, info); err != nil {
		return nil, storeErr(err)
	}

	m.logger.Info("node instance created", "node", id.Short(), "port", opts.Port)
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeCreated).WithNode(id, info.Status))

	if m.cmds != nil {
		m.cmds.CheckBalanceFor(info)
	}

	if opts.AutoStart {
		if err := m.StartNode(ctx, id); err != nil {
			m.logger.Warn("failed to auto-start node after creation",
				"node", id.Short(), "err", err)
		} else if err := m.store.GetNodeMetadata(ctx, info); err != nil {
			m.logger.Warn("failed to reload node after auto-start",
				"node", id.Short(), "err", err)
		}
	}
	return info, nil
}

// StartNode spawns the node process. Starting a node that is already
// active is a no-op.
func (m *NodeManager) StartNode(ctx context.Context, id types.NodeID) error {
	info, err := m.checkUnlocked(ctx, id)
	if err != nil {
		return err
	}
	if info.Status.IsActive() {
		return nil
	}

	m.locks.Lock(id, actionLockTTL)
	defer m.locks.Remove(id)

	m.setStatus(ctx, id, types.Restarting())

	res, err := m.launcher.SpawnNode(ctx, info)
	if err != nil {
		m.setStatus(ctx, id, types.StartFailed(err.Error()))
		return &LauncherError{Err: err}
	}
	m.applySpawnResult(ctx, info, res)
	m.setStatus(ctx, id, types.Active())
	m.logger.Info("node started", "node", id.Short(), "pid", res.PID, "peer_id", res.PeerID)
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeStarted).WithNode(id, types.Active()))
	return nil
}

// StopNode terminates the node process and marks it stopped.
func (m *NodeManager) StopNode(ctx context.Context, id types.NodeID) error {
	info, err := m.checkUnlocked(ctx, id)
	if err != nil {
		return err
	}
	if info.Status.IsInactive() {
		return nil
	}

	m.locks.Lock(id, actionLockTTL)
	defer m.locks.Remove(id)

	m.setStatus(ctx, id, types.Stopping())

	if err := m.launcher.KillNode(ctx, id); err != nil {
		m.setStatus(ctx, id, types.Inactive(types.InactiveUnknown))
		return &LauncherError{Err: err}
	}
	if err := m.store.ClearNodeRuntime(ctx, id); err != nil {
		m.logger.Warn("failed to clear runtime fields", "node", id.Short(), "err", err)
	}
	m.setStatus(ctx, id, types.Inactive(types.InactiveStopped))
	m.logger.Info("node stopped", "node", id.Short())
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeStopped).WithNode(id, types.Inactive(types.InactiveStopped)))
	return nil
}

// UpgradeNode stops the node, installs the current master binary in its
// directory and restarts it. The longer lock ttl covers the restart
// round trip.
func (m *NodeManager) UpgradeNode(ctx context.Context, id types.NodeID) error {
	info, err := m.checkUnlocked(ctx, id)
	if err != nil {
		return err
	}

	m.locks.Lock(id, upgradeLockTTL)
	defer m.locks.Remove(id)

	m.setStatus(ctx, id, types.Upgrading())

	res, err := m.launcher.UpgradeNode(ctx, info)
	if err != nil {
		m.setStatus(ctx, id, types.StartFailed(err.Error()))
		return &LauncherError{Err: err}
	}
	m.applySpawnResult(ctx, info, res)
	m.setStatus(ctx, id, types.Active())
	m.logger.Info("node upgraded", "node", id.Short(), "bin_version", res.BinVersion)
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeUpgraded).WithNode(id, types.Active()))
	return nil
}

// RecycleNode restarts the node with a freshly generated peer id.
func (m *NodeManager) RecycleNode(ctx context.Context, id types.NodeID) error {
	info, err := m.checkUnlocked(ctx, id)
	if err != nil {
		return err
	}

	m.locks.Lock(id, actionLockTTL)
	defer m.locks.Remove(id)

	m.setStatus(ctx, id, types.Recycling())

	res, err := m.launcher.RegeneratePeerID(ctx, info)
	if err != nil {
		m.setStatus(ctx, id, types.StartFailed(err.Error()))
		return &LauncherError{Err: err}
	}
	m.applySpawnResult(ctx, info, res)
	m.setStatus(ctx, id, types.Active())
	m.logger.Info("node recycled with fresh peer id", "node", id.Short(), "peer_id", res.PeerID)
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeRecycled).WithNode(id, types.Active()))
	return nil
}

// DeleteNode removes the node, its process, its data directory and its
// metrics. Deletion is allowed regardless of batch membership so a
// stuck node can always be removed.
func (m *NodeManager) DeleteNode(ctx context.Context, id types.NodeID) error {
	info := types.NewNodeInstanceInfo(id)
	if err := m.store.GetNodeMetadata(ctx, info); err != nil {
		return storeErr(err)
	}

	m.setStatus(ctx, id, types.Removing())

	if err := m.launcher.KillNode(ctx, id); err != nil {
		m.logger.Warn("failed to kill node process during removal", "node", id.Short(), "err", err)
	}
	if err := m.cache.RemoveNodeMetrics(ctx, id); err != nil {
		m.logger.Warn("failed to remove node metrics", "node", id.Short(), "err", err)
	}
	if err := m.launcher.RemoveNodeDir(info); err != nil {
		m.logger.Warn("failed to remove node directory", "node", id.Short(), "err", err)
	}
	if err := m.store.DeleteNodeMetadata(ctx, id); err != nil {
		return storeErr(err)
	}
	m.locks.Remove(id)
	if m.cmds != nil {
		m.cmds.DeleteBalanceFor(info)
	}
	m.logger.Info("node removed", "node", id.Short())
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeRemoved).WithNode(id, types.Removing()))
	return nil
}

// ListNodes returns the nodes matching the filter, with the lock bit,
// cached live metrics and the display status overlaid.
func (m *NodeManager) ListNodes(ctx context.Context, filter *types.NodeFilter) (map[types.NodeID]*types.NodeInstanceInfo, error) {
	nodes, err := m.store.GetNodesList(ctx)
	if err != nil {
		return nil, storeErr(err)
	}

	now := m.now()
	out := make(map[types.NodeID]*types.NodeInstanceInfo, len(nodes))
	for id, info := range nodes {
		if !filter.Passes(info) {
			continue
		}
		info.IsStatusLocked = info.IsStatusLocked || m.locks.IsStillLocked(id)
		if info.Status.IsActive() {
			m.cache.UpdateNodeInfo(info)
		}
		info.StatusInfo = statusInfo(now, info)
		out[id] = info
	}
	return out, nil
}

// NodeInfo returns one node's record with the same overlays ListNodes
// applies.
func (m *NodeManager) NodeInfo(ctx context.Context, id types.NodeID) (*types.NodeInstanceInfo, error) {
	info := types.NewNodeInstanceInfo(id)
	if err := m.store.GetNodeMetadata(ctx, info); err != nil {
		return nil, storeErr(err)
	}
	info.IsStatusLocked = info.IsStatusLocked || m.locks.IsStillLocked(id)
	if info.Status.IsActive() {
		m.cache.UpdateNodeInfo(info)
	}
	info.StatusInfo = statusInfo(m.now(), info)
	return info, nil
}

// NodeMetrics returns the node's historic metric series.
func (m *NodeManager) NodeMetrics(ctx context.Context, id types.NodeID, sinceMs int64) (types.Metrics, error) {
	if _, err := m.NodeInfo(ctx, id); err != nil {
		return nil, err
	}
	series, err := m.cache.GetNodeMetrics(ctx, id, sinceMs)
	if err != nil {
		return nil, storeErr(err)
	}
	return series, nil
}

// LogsStream opens a follow-style reader over the node's log output.
func (m *NodeManager) LogsStream(ctx context.Context, id types.NodeID) (io.ReadCloser, error) {
	if _, err := m.NodeInfo(ctx, id); err != nil {
		return nil, err
	}
	rc, err := m.launcher.LogsStream(ctx, id)
	if err != nil {
		return nil, &LauncherError{Err: err}
	}
	return rc, nil
}

// UpgradeMasterBinary installs the given (or newest published) node
// binary as the master copy and records the installed version.
func (m *NodeManager) UpgradeMasterBinary(ctx context.Context, version string) (string, error) {
	installed, err := m.launcher.UpgradeMasterBinary(ctx, version)
	if err != nil {
		return "", &LauncherError{Err: err}
	}
	m.binVers.SetMaster(installed)
	m.logger.Info("master node binary upgraded", "version", installed)
	return installed, nil
}

// checkUnlocked loads the node record and rejects the action when the
// node is locked, either by a scheduled batch (persistent bit) or by an
// in-flight action (lock table).
func (m *NodeManager) checkUnlocked(ctx context.Context, id types.NodeID) (*types.NodeInstanceInfo, error) {
	if m.locks.IsStillLocked(id) {
		return nil, ErrAlreadyBatched
	}
	info, err := m.store.CheckNodeIsNotBatched(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return info, nil
}

func (m *NodeManager) applySpawnResult(ctx context.Context, info *types.NodeInstanceInfo, res launcher.SpawnResult) {
	info.PID = res.PID
	if res.PeerID != "" {
		info.PeerID = res.PeerID
	}
	if res.BinVersion != "" {
		info.BinVersion = res.BinVersion
	}
	if res.IPs != "" {
		info.IPs = res.IPs
	}
	if err := m.store.UpdateNodeMetadata(ctx, info); err != nil {
		m.logger.Warn("failed to persist spawn result", "node", info.ShortNodeID(), "err", err)
	}
	if err := m.store.UpdateNodePID(ctx, info.NodeID, res.PID); err != nil {
		m.logger.Warn("failed to persist node pid", "node", info.ShortNodeID(), "err", err)
	}
}

func (m *NodeManager) setStatus(ctx context.Context, id types.NodeID, status types.NodeStatus) {
	if err := m.store.UpdateNodeStatus(ctx, id, status); err != nil {
		m.logger.Warn("failed to persist node status", "node", id.Short(), "status", status.String(), "err", err)
	}
	m.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeStatus).WithNode(id, status))
}

func (m *NodeManager) dispatch(ctx context.Context, e *eventbus.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Dispatch(ctx, e); err != nil {
		m.logger.Warn("failed to dispatch event", "type", string(e.Type), "err", err)
	}
}
