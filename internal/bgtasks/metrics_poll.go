package bgtasks

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/metrics"
	"github.com/formicaio/formicaiod/internal/types"
)

// MetricsMaxSizePerNode bounds the persisted time series: only this
// many distinct sample timestamps are kept per node.
const MetricsMaxSizePerNode = 5000

// identityRefreshCycles is how many metrics passes re-read node
// identities after a list-API hit arms the countdown.
const identityRefreshCycles = 5

// pollMetrics scrapes every running node's exposition endpoint, detects
// nodes whose process died behind the supervisor's back and refreshes
// the published fleet aggregate.
func (r *Runner) pollMetrics(ctx context.Context) {
	nodes, err := r.store.GetNodesList(ctx)
	if err != nil {
		r.logger.Warn("failed to list nodes for metrics poll", "err", err)
		return
	}

	live := make(map[types.NodeID]bool)
	if onDisk, err := r.launcher.GetNodesList(ctx); err == nil {
		for _, info := range onDisk {
			live[info.NodeID] = info.PID > 0
		}
	}

	for id, info := range nodes {
		if !info.Status.IsActive() {
			continue
		}
		if r.mgr.Locks().IsStillLocked(id) || info.IsStatusLocked {
			// an action or batch owns the node right now
			continue
		}

		if alive, known := live[id]; known && !alive {
			r.logger.Warn("node process exited outside supervisor control", "node", id.Short())
			if err := r.store.ClearNodeRuntime(ctx, id); err != nil {
				r.logger.Warn("failed to clear runtime fields", "node", id.Short(), "err", err)
			}
			if err := r.store.UpdateNodeStatus(ctx, id, types.Exited("")); err != nil {
				r.logger.Warn("failed to persist node status", "node", id.Short(), "err", err)
			}
			r.dispatch(ctx, eventbus.NewEvent(eventbus.EventNodeStatus).WithNode(id, types.Exited("")))
			continue
		}

		samples, err := metrics.NewClient(info.MetricsPort).FetchMetrics(ctx)
		if err != nil {
			// recorded as running, but unobservable
			r.cache.MarkUnknown(id)
			r.tel.CountScrapeError(ctx)
			r.logger.Debug("failed to scrape node metrics", "node", id.Short(), "err", err)
			continue
		}
		if err := r.cache.Store(ctx, id, samples); err != nil {
			r.logger.Warn("failed to cache node metrics", "node", id.Short(), "err", err)
		}
	}

	// identity refreshes only run while a recent list-API hit keeps
	// the countdown armed
	if r.identityCountdown.Load() > 0 {
		r.identityCountdown.Add(-1)
		r.refreshNodeIdentities(ctx, nodes)
	}

	r.updateStats(ctx, nodes)
}

// refreshNodeIdentities re-reads each active node's identity from the
// launcher and persists it, together with the scraped reward counter,
// so restarts do not lose the last observed values.
func (r *Runner) refreshNodeIdentities(ctx context.Context, nodes map[types.NodeID]*types.NodeInstanceInfo) {
	for id, info := range nodes {
		if !info.Status.IsActive() || info.IsStatusLocked {
			continue
		}
		r.cache.UpdateNodeInfo(info)

		update := &types.NodeInstanceInfo{NodeID: id, Rewards: info.Rewards}
		ident, err := r.launcher.NodeIdentity(ctx, id)
		if err != nil {
			r.logger.Debug("failed to read node identity", "node", id.Short(), "err", err)
		} else {
			update.PeerID = ident.PeerID
			update.BinVersion = ident.BinVersion
		}
		if update.Rewards == nil && update.PeerID == "" && update.BinVersion == "" {
			continue
		}
		if err := r.store.UpdateNodeMetadata(ctx, update); err != nil {
			r.logger.Warn("failed to persist node identity", "node", id.Short(), "err", err)
		}
	}
}

// updateStats recomputes the fleet aggregate and publishes it.
func (r *Runner) updateStats(ctx context.Context, nodes map[types.NodeID]*types.NodeInstanceInfo) {
	stats := types.NewStats()
	stats.TotalNodes = uint64(len(nodes))
	stats.EarningsSyncing = r.earningsSyncing.Load()

	var netSizeSum, netSizeCount uint64
	for _, info := range nodes {
		if info.Status.IsInactive() {
			stats.InactiveNodes++
		}
		if !info.Status.IsActive() {
			continue
		}
		stats.ActiveNodes++
		r.cache.UpdateNodeInfo(info)
		stats.ConnectedPeers += info.ConnectedPeers
		stats.ShunnedCount += info.ShunnedCount
		stats.StoredRecords += info.Records
		stats.RelevantRecords += info.RelevantRecords
		if info.NetSize > 0 {
			netSizeSum += info.NetSize
			netSizeCount++
		}
	}
	// each node estimates the network size independently; average them
	if netSizeCount > 0 {
		stats.EstimatedNetSize = netSizeSum / netSizeCount
	}

	stats.Balances = r.balances.snapshot()
	for _, ab := range stats.Balances {
		if ab.Balance != nil {
			stats.TotalBalance.Add(stats.TotalBalance, ab.Balance)
		}
	}
	stats.Earnings = r.addressEarnings(ctx, r.now())

	if total, avail, err := diskStats(r.dataDir); err == nil {
		stats.TotalDiskSpace = total
		stats.AvailableDiskSpace = avail
		stats.UsedDiskSpace = total - avail
	}

	r.stats.Set(stats)
}

// pruneMetrics trims each node's persisted series to the retention cap.
func (r *Runner) pruneMetrics(ctx context.Context) {
	nodes, err := r.store.GetNodesList(ctx)
	if err != nil {
		r.logger.Warn("failed to list nodes for metrics pruning", "err", err)
		return
	}
	for id := range nodes {
		if err := r.store.RemoveOldestMetrics(ctx, id, MetricsMaxSizePerNode); err != nil {
			r.logger.Warn("failed to prune node metrics", "node", id.Short(), "err", err)
		}
	}
}

func diskStats(path string) (total, avail uint64, err error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0, err
	}
	bsize := uint64(fs.Bsize)
	return fs.Blocks * bsize, fs.Bavail * bsize, nil
}
