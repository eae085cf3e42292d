package bgtasks

import (
	"context"
	"time"

	"github.com/formicaio/formicaiod/internal/launcher"
)

// checkBinVersion resolves the newest published node binary version,
// keeps the master binary current and, when enabled, upgrades at most
// one outdated node per pass so the fleet rolls over gradually.
func (r *Runner) checkBinVersion(ctx context.Context) {
	latest, err := launcher.LatestNodeBinVersion(ctx)
	if err != nil {
		r.logger.Warn("failed to query latest node binary version", "err", err)
		return
	}
	r.mgr.BinVersions().SetLatest(latest)
	r.logger.Debug("latest published node binary version", "version", latest)

	if r.mgr.BinVersions().Master() != latest {
		if _, err := r.mgr.UpgradeMasterBinary(ctx, latest); err != nil {
			r.logger.Warn("failed to upgrade master node binary", "version", latest, "err", err)
		}
	}

	settings := r.currentSettings()
	if !settings.NodesAutoUpgrade {
		return
	}

	nodes, err := r.store.GetNodesList(ctx)
	if err != nil {
		r.logger.Warn("failed to list nodes for auto-upgrade", "err", err)
		return
	}
	for id, info := range nodes {
		if !info.UpgradeAvailable(latest) {
			continue
		}
		if info.IsStatusLocked || r.mgr.Locks().IsStillLocked(id) {
			continue
		}
		if !info.Status.IsActive() {
			continue
		}

		select {
		case <-time.After(settings.NodesAutoUpgradeDelay):
		case <-ctx.Done():
			return
		}
		r.logger.Info("auto-upgrading node", "node", id.Short(),
			"from", info.BinVersion, "to", latest)
		if err := r.mgr.UpgradeNode(ctx, id); err != nil {
			r.logger.Warn("failed to auto-upgrade node", "node", id.Short(), "err", err)
		}
		// one node per pass keeps most of the fleet serving
		return
	}
}
