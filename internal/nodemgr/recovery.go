package nodemgr

import (
	"context"
	"fmt"
	"sort"

	"github.com/formicaio/formicaiod/internal/types"
)

// Recover reconciles persisted node records with reality after a
// restart: stale batch locks are cleared, nodes recorded as active or
// mid-transition whose process no longer exists are marked stopped, and
// nodes flagged for auto-start are brought back up.
func (m *NodeManager) Recover(ctx context.Context) error {
	nodes, err := m.store.GetNodesList(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nodes for recovery: %w", err)
	}

	alive := make(map[types.NodeID]bool)
	if onDisk, err := m.launcher.GetNodesList(ctx); err != nil {
		m.logger.Warn("failed to enumerate node processes during recovery", "err", err)
	} else {
		for _, info := range onDisk {
			alive[info.NodeID] = info.PID > 0
		}
	}

	var toStart []*types.NodeInstanceInfo
	for id, info := range nodes {
		if info.IsStatusLocked {
			if err := m.store.UnlockNodeStatus(ctx, id); err != nil {
				m.logger.Warn("failed to clear stale batch lock", "node", id.Short(), "err", err)
			}
		}

		stale := (info.Status.IsActive() || info.Status.IsTransitioning()) && !alive[id]
		if stale {
			m.logger.Info("node recorded as running but its process is gone, marking stopped",
				"node", id.Short(), "status", info.Status.String())
			if err := m.store.ClearNodeRuntime(ctx, id); err != nil {
				m.logger.Warn("failed to clear runtime fields", "node", id.Short(), "err", err)
			}
			m.setStatus(ctx, id, types.Inactive(types.InactiveStopped))
			info.Status = types.Inactive(types.InactiveStopped)
		}

		if info.AutoStart && info.Status.IsInactive() && !alive[id] {
			toStart = append(toStart, info)
		}
	}

	// oldest first, so fleets come back in a stable order
	sort.Slice(toStart, func(i, j int) bool { return toStart[i].Created < toStart[j].Created })
	for _, info := range toStart {
		if err := m.StartNode(ctx, info.NodeID); err != nil {
			m.logger.Warn("failed to auto-start node during recovery",
				"node", info.ShortNodeID(), "err", err)
		}
	}

	if len(nodes) > 0 {
		m.logger.Info("node recovery complete", "nodes", len(nodes), "auto_started", len(toStart))
	}
	return nil
}
