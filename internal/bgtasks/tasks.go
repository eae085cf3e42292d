// Package bgtasks runs the supervisor's periodic work: metrics
// scraping, fleet stats aggregation, rewards balance retrieval, node
// binary version tracking and time-series pruning. It also serves as
// the command sink the action layer hands balance work to.
package bgtasks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/launcher"
	"github.com/formicaio/formicaiod/internal/metrics"
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/telemetry"
	"github.com/formicaio/formicaiod/internal/types"
)

// metricsPruneInterval is how often the persisted series are trimmed to
// the retention cap.
const metricsPruneInterval = time.Hour

// Runner owns the background loop.
type Runner struct {
	store    storage.Store
	mgr      *nodemgr.NodeManager
	cache    *metrics.Cache
	launcher launcher.NodeLauncher
	bus      *eventbus.Bus
	stats    *StatsCell
	logger   *slog.Logger

	balances *balanceBook
	queue    *cmdQueue
	dataDir  string
	tel      *telemetry.Telemetry
	now      func() time.Time

	earningsSyncing   atomic.Bool
	identityCountdown atomic.Int32

	settingsMu sync.RWMutex
	settings   types.AppSettings
}

// New builds the background task runner. dataDir is the launcher's root
// data directory, used for disk usage reporting.
func New(store storage.Store, mgr *nodemgr.NodeManager, cache *metrics.Cache,
	l launcher.NodeLauncher, bus *eventbus.Bus, stats *StatsCell,
	dataDir string, logger *slog.Logger,
) *Runner {
	return &Runner{
		store:    store,
		mgr:      mgr,
		cache:    cache,
		launcher: l,
		bus:      bus,
		stats:    stats,
		logger:   logger,
		balances: newBalanceBook(),
		queue:    newCmdQueue(logger),
		dataDir:  dataDir,
		now:      time.Now,
		settings: types.DefaultAppSettings(),
	}
}

// ArmIdentityRefresh makes the next few metrics polls re-read node
// identities. Called on list-API hits, so the refresh work only runs
// while someone is actually watching the fleet.
func (r *Runner) ArmIdentityRefresh() {
	r.identityCountdown.Store(identityRefreshCycles)
}

// IdentityRefreshArmed reports whether identity refreshes are still
// pending from a recent list-API hit.
func (r *Runner) IdentityRefreshArmed() bool {
	return r.identityCountdown.Load() > 0
}

// SetTelemetry attaches the daemon's instruments. A nil value keeps
// telemetry off.
func (r *Runner) SetTelemetry(t *telemetry.Telemetry) { r.tel = t }

// ApplySettings hands updated settings to the loop, re-arming the
// periodic timers whose frequency changed.
func (r *Runner) ApplySettings(s types.AppSettings) {
	r.queue.push(command{kind: cmdApplySettings, settings: &s})
}

// CheckAllBalances schedules a full balance pass outside the regular
// cadence.
func (r *Runner) CheckAllBalances() {
	r.queue.push(command{kind: cmdCheckAllBalances})
}

func (r *Runner) currentSettings() types.AppSettings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

// Run executes the background loop until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if s, err := r.store.GetSettings(ctx); err != nil {
		r.logger.Warn("failed to load settings, using defaults", "err", err)
	} else {
		r.settingsMu.Lock()
		r.settings = s
		r.settingsMu.Unlock()
	}
	settings := r.currentSettings()

	events, cancelSub := r.bus.Subscribe()
	defer cancelSub()

	metricsTicker := time.NewTicker(settings.NodesMetricsPollingFreq)
	balancesTicker := time.NewTicker(settings.RewardsBalancesRetrievalFreq)
	binTicker := time.NewTicker(settings.NodeBinVersionPollingFreq)
	pruneTicker := time.NewTicker(metricsPruneInterval)
	defer metricsTicker.Stop()
	defer balancesTicker.Stop()
	defer binTicker.Stop()
	defer pruneTicker.Stop()

	// one pass of the slow tasks up front, so the UI is not empty for
	// minutes after boot
	r.checkBinVersion(ctx)
	r.checkAllBalances(ctx)
	r.pollMetrics(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-metricsTicker.C:
			r.pollMetrics(ctx)
		case <-balancesTicker.C:
			r.checkAllBalances(ctx)
		case <-binTicker.C:
			r.checkBinVersion(ctx)
		case <-pruneTicker.C:
			r.pruneMetrics(ctx)
		case cmd := <-r.queue.ch:
			r.handleCommand(ctx, cmd, metricsTicker, balancesTicker, binTicker)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == eventbus.EventSettings {
				r.reloadSettings(ctx, metricsTicker, balancesTicker, binTicker)
			}
		}
	}
}

func (r *Runner) handleCommand(ctx context.Context, cmd command,
	metricsTicker, balancesTicker, binTicker *time.Ticker,
) {
	switch cmd.kind {
	case cmdCheckBalanceFor:
		r.checkBalanceFor(ctx, cmd.info)
	case cmdDeleteBalanceFor:
		r.deleteBalanceFor(ctx, cmd.info)
	case cmdCheckAllBalances:
		r.checkAllBalances(ctx)
	case cmdApplySettings:
		r.applySettings(*cmd.settings, metricsTicker, balancesTicker, binTicker)
	}
}

func (r *Runner) reloadSettings(ctx context.Context,
	metricsTicker, balancesTicker, binTicker *time.Ticker,
) {
	s, err := r.store.GetSettings(ctx)
	if err != nil {
		r.logger.Warn("failed to reload settings", "err", err)
		return
	}
	r.applySettings(s, metricsTicker, balancesTicker, binTicker)
}

// applySettings swaps the active settings, resetting only the timers
// whose frequency actually changed so unchanged cadences keep their
// phase.
func (r *Runner) applySettings(s types.AppSettings,
	metricsTicker, balancesTicker, binTicker *time.Ticker,
) {
	r.settingsMu.Lock()
	prev := r.settings
	r.settings = s
	r.settingsMu.Unlock()

	if s.NodesMetricsPollingFreq != prev.NodesMetricsPollingFreq && s.NodesMetricsPollingFreq > 0 {
		metricsTicker.Reset(s.NodesMetricsPollingFreq)
	}
	if s.RewardsBalancesRetrievalFreq != prev.RewardsBalancesRetrievalFreq && s.RewardsBalancesRetrievalFreq > 0 {
		balancesTicker.Reset(s.RewardsBalancesRetrievalFreq)
	}
	if s.NodeBinVersionPollingFreq != prev.NodeBinVersionPollingFreq && s.NodeBinVersionPollingFreq > 0 {
		binTicker.Reset(s.NodeBinVersionPollingFreq)
	}
	r.logger.Info("settings applied",
		"metrics_freq", s.NodesMetricsPollingFreq.String(),
		"balances_freq", s.RewardsBalancesRetrievalFreq.String(),
		"bin_version_freq", s.NodeBinVersionPollingFreq.String())
}

func (r *Runner) dispatch(ctx context.Context, e *eventbus.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Dispatch(ctx, e); err != nil {
		r.logger.Warn("failed to dispatch event", "type", string(e.Type), "err", err)
	}
}
