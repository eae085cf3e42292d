package nodemgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/launcher"
	"github.com/formicaio/formicaiod/internal/locktable"
	"github.com/formicaio/formicaiod/internal/metrics"
	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/storage/sqlite"
	"github.com/formicaio/formicaiod/internal/types"
)

const testRewardsAddr = "0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684"

type fakeLauncher struct {
	mu          sync.Mutex
	spawnCounts map[types.NodeID]int
	killed      []types.NodeID
	removedDirs []types.NodeID
	onDisk      []*types.NodeInstanceInfo
	failSpawn   bool
	nextPID     uint32
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{spawnCounts: make(map[types.NodeID]int), nextPID: 1000}
}

func (f *fakeLauncher) NewNode(_ context.Context, _ *types.NodeInstanceInfo) error { return nil }

func (f *fakeLauncher) SpawnNode(_ context.Context, info *types.NodeInstanceInfo) (launcher.SpawnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSpawn {
		return launcher.SpawnResult{}, fmt.Errorf("no such binary")
	}
	f.spawnCounts[info.NodeID]++
	f.nextPID++
	return launcher.SpawnResult{
		PID:        f.nextPID,
		PeerID:     "12D3KooWtest" + info.NodeID.Short(),
		BinVersion: "0.3.1",
		IPs:        "10.0.0.7",
	}, nil
}

func (f *fakeLauncher) KillNode(_ context.Context, id types.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeLauncher) UpgradeNode(ctx context.Context, info *types.NodeInstanceInfo) (launcher.SpawnResult, error) {
	if err := f.KillNode(ctx, info.NodeID); err != nil {
		return launcher.SpawnResult{}, err
	}
	return f.SpawnNode(ctx, info)
}

func (f *fakeLauncher) RegeneratePeerID(ctx context.Context, info *types.NodeInstanceInfo) (launcher.SpawnResult, error) {
	return f.UpgradeNode(ctx, info)
}

func (f *fakeLauncher) RemoveNodeDir(info *types.NodeInstanceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedDirs = append(f.removedDirs, info.NodeID)
	return nil
}

func (f *fakeLauncher) GetNodesList(_ context.Context) ([]*types.NodeInstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onDisk, nil
}

func (f *fakeLauncher) LogsStream(_ context.Context, _ types.NodeID) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeLauncher) UpgradeMasterBinary(_ context.Context, version string) (string, error) {
	if version == "" {
		version = "0.3.2"
	}
	return version, nil
}

func (f *fakeLauncher) NodeIdentity(_ context.Context, id types.NodeID) (launcher.SpawnResult, error) {
	return launcher.SpawnResult{PeerID: "12D3KooWtest" + id.Short(), BinVersion: "0.3.1"}, nil
}

func (f *fakeLauncher) spawns(id types.NodeID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawnCounts[id]
}

func newTestManager(t *testing.T) (*NodeManager, *fakeLauncher, storage.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fl := newFakeLauncher()
	m := New(store, locktable.New(), metrics.NewCache(store), fl,
		eventbus.New(logger), &BinVersionCell{}, logger)
	return m, fl, store
}

func testOpts() types.NodeOpts {
	return types.NodeOpts{
		Port:        12000,
		MetricsPort: 14000,
		RewardsAddr: testRewardsAddr,
	}
}

func TestCreateNodeRejectsInvalidInput(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	opts := testOpts()
	opts.RewardsAddr = "not-an-address"
	_, err := m.CreateNode(ctx, opts)
	require.Error(t, err)
	assert.Equal(t, "invalid_input", ErrorKind(err))

	opts = testOpts()
	opts.Port = 0
	_, err = m.CreateNode(ctx, opts)
	require.Error(t, err)
	assert.Equal(t, "invalid_input", ErrorKind(err))
}

func TestCreateThenStartNode(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	assert.True(t, info.Status.IsCreated())
	assert.Equal(t, "Created", info.Status.String())

	require.NoError(t, m.StartNode(ctx, info.NodeID))

	got, err := m.NodeInfo(ctx, info.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsActive())
	assert.NotZero(t, got.PID)
	assert.Equal(t, "0.3.1", got.BinVersion)
	assert.Contains(t, got.PeerID, "12D3KooW")
	assert.Equal(t, 1, fl.spawns(info.NodeID))
}

func TestStartActiveNodeIsNoOp(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, m.StartNode(ctx, info.NodeID))
	require.NoError(t, m.StartNode(ctx, info.NodeID))

	assert.Equal(t, 1, fl.spawns(info.NodeID))
}

func TestStartFailureRecordsMessage(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)

	fl.failSpawn = true
	err = m.StartNode(ctx, info.NodeID)
	require.Error(t, err)
	assert.Equal(t, "launcher_failure", ErrorKind(err))

	got, err := m.NodeInfo(ctx, info.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsStartFailed())
	assert.Equal(t, "Start failed (no such binary)", got.Status.String())
	assert.False(t, got.IsStatusLocked, "lock must be released after a failed start")
}

func TestStopNodeClearsRuntimeFields(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, m.StartNode(ctx, info.NodeID))
	require.NoError(t, m.StopNode(ctx, info.NodeID))

	got, err := m.NodeInfo(ctx, info.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsStopped())
	assert.Zero(t, got.PID)
	assert.Empty(t, got.IPs)
	assert.Equal(t, "0.3.1", got.BinVersion, "identity fields survive a stop")
	assert.Equal(t, []types.NodeID{info.NodeID}, fl.killed)
}

func TestActionsRejectedWhileLocked(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)

	m.Locks().Lock(info.NodeID, time.Minute)
	err = m.StartNode(ctx, info.NodeID)
	require.Error(t, err)
	assert.Equal(t, "already_batched", ErrorKind(err))
	assert.True(t, errors.Is(err, ErrAlreadyBatched))

	err = m.StopNode(ctx, info.NodeID)
	assert.Equal(t, "already_batched", ErrorKind(err))
}

func TestActionsRejectedWhenBatched(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, store.SetNodeStatusToLocked(ctx, info.NodeID))

	err = m.UpgradeNode(ctx, info.NodeID)
	require.Error(t, err)
	assert.Equal(t, "already_batched", ErrorKind(err))
}

func TestUpgradeNodeRestartsWithLongLock(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, m.StartNode(ctx, info.NodeID))
	require.NoError(t, m.UpgradeNode(ctx, info.NodeID))

	got, err := m.NodeInfo(ctx, info.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsActive())
	assert.Equal(t, 2, fl.spawns(info.NodeID))
	assert.Contains(t, fl.killed, info.NodeID)
}

func TestRecycleNodeRotatesIdentity(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, m.StartNode(ctx, info.NodeID))
	require.NoError(t, m.RecycleNode(ctx, info.NodeID))

	got, err := m.NodeInfo(ctx, info.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsActive())
	assert.Equal(t, 2, fl.spawns(info.NodeID))
}

func TestDeleteNodeRemovesEverything(t *testing.T) {
	m, fl, store := newTestManager(t)
	ctx := context.Background()

	info, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, m.StartNode(ctx, info.NodeID))
	require.NoError(t, store.StoreNodeMetrics(ctx, info.NodeID, []types.NodeMetric{
		{Key: types.MetricKeyMemUsedMB, Value: "42.5", Timestamp: 1},
	}))

	require.NoError(t, m.DeleteNode(ctx, info.NodeID))

	_, err = m.NodeInfo(ctx, info.NodeID)
	assert.Equal(t, "not_found", ErrorKind(err))
	series, err := store.GetNodeMetrics(ctx, info.NodeID, 0)
	require.NoError(t, err)
	assert.Empty(t, series)
	assert.Contains(t, fl.removedDirs, info.NodeID)
	assert.Contains(t, fl.killed, info.NodeID)
}

func TestDeleteUnknownNode(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.DeleteNode(context.Background(), types.NewNodeID())
	assert.Equal(t, "not_found", ErrorKind(err))
}

func TestListNodesFiltersAndOverlays(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	optsB := testOpts()
	optsB.Port = 12001
	optsB.MetricsPort = 14001
	b, err := m.CreateNode(ctx, optsB)
	require.NoError(t, err)
	require.NoError(t, m.StartNode(ctx, b.NodeID))

	all, err := m.ListNodes(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := m.ListNodes(ctx, &types.NodeFilter{Status: []types.NodeStatusFilter{types.FilterActive}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Contains(t, active, b.NodeID)
	assert.Contains(t, active[b.NodeID].StatusInfo, "Up ")

	m.Locks().Lock(a.NodeID, time.Minute)
	all, err = m.ListNodes(ctx, nil)
	require.NoError(t, err)
	assert.True(t, all[a.NodeID].IsStatusLocked)
	assert.False(t, all[b.NodeID].IsStatusLocked)
}

func TestRecoverMarksDeadNodesStopped(t *testing.T) {
	m, fl, store := newTestManager(t)
	ctx := context.Background()

	dead, err := m.CreateNode(ctx, testOpts())
	require.NoError(t, err)
	require.NoError(t, store.UpdateNodeStatus(ctx, dead.NodeID, types.Active()))
	require.NoError(t, store.UpdateNodePID(ctx, dead.NodeID, 4321))
	require.NoError(t, store.SetNodeStatusToLocked(ctx, dead.NodeID))

	require.NoError(t, m.Recover(ctx))

	got, err := m.NodeInfo(ctx, dead.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsStopped())
	assert.Zero(t, got.PID)
	assert.False(t, got.IsStatusLocked, "stale batch locks are cleared on boot")
	assert.Zero(t, fl.spawns(dead.NodeID))
}

func TestRecoverAutoStartsFlaggedNodes(t *testing.T) {
	m, fl, _ := newTestManager(t)
	ctx := context.Background()

	opts := testOpts()
	opts.AutoStart = true
	info, err := m.CreateNode(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, m.StopNode(ctx, info.NodeID))
	fl.mu.Lock()
	fl.spawnCounts = make(map[types.NodeID]int)
	fl.mu.Unlock()

	require.NoError(t, m.Recover(ctx))

	got, err := m.NodeInfo(ctx, info.NodeID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsActive())
	assert.Equal(t, 1, fl.spawns(info.NodeID))
}

func TestUpgradeMasterBinaryRecordsVersion(t *testing.T) {
	m, _, _ := newTestManager(t)
	installed, err := m.UpgradeMasterBinary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "0.3.2", installed)
	assert.Equal(t, "0.3.2", m.BinVersions().Master())
}

func TestStatusInfoRendering(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mk := func(status types.NodeStatus, changedAgo time.Duration) *types.NodeInstanceInfo {
		return &types.NodeInstanceInfo{
			Status:        status,
			StatusChanged: uint64(now.Add(-changedAgo).Unix()),
		}
	}

	assert.Equal(t, "", statusInfo(now, mk(types.Upgrading(), time.Minute)))
	assert.Equal(t, "Up 5 minutes", statusInfo(now, mk(types.Active(), 5*time.Minute)))
	assert.Equal(t, "Up 3 hours", statusInfo(now, mk(types.Active(), 3*time.Hour)))
	assert.Equal(t, "2 days ago", statusInfo(now, mk(types.Inactive(types.InactiveStopped), 48*time.Hour)))
	assert.Equal(t, "Up about a second", statusInfo(now, mk(types.Active(), time.Second)))
}
