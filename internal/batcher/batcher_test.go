package batcher

import (
	"context"
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
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/storage/sqlite"
	"github.com/formicaio/formicaiod/internal/types"
)

const testRewardsAddr = "0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684"

type fakeLauncher struct {
	mu        sync.Mutex
	failSpawn bool
	nextPID   uint32
}

func (f *fakeLauncher) NewNode(_ context.Context, _ *types.NodeInstanceInfo) error { return nil }

func (f *fakeLauncher) SpawnNode(_ context.Context, _ *types.NodeInstanceInfo) (launcher.SpawnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSpawn {
		return launcher.SpawnResult{}, fmt.Errorf("spawn refused")
	}
	f.nextPID++
	return launcher.SpawnResult{PID: f.nextPID}, nil
}

func (f *fakeLauncher) KillNode(_ context.Context, _ types.NodeID) error { return nil }

func (f *fakeLauncher) UpgradeNode(ctx context.Context, info *types.NodeInstanceInfo) (launcher.SpawnResult, error) {
	return f.SpawnNode(ctx, info)
}

func (f *fakeLauncher) RegeneratePeerID(ctx context.Context, info *types.NodeInstanceInfo) (launcher.SpawnResult, error) {
	return f.SpawnNode(ctx, info)
}

func (f *fakeLauncher) RemoveNodeDir(_ *types.NodeInstanceInfo) error { return nil }

func (f *fakeLauncher) GetNodesList(_ context.Context) ([]*types.NodeInstanceInfo, error) {
	return nil, nil
}

func (f *fakeLauncher) LogsStream(_ context.Context, _ types.NodeID) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeLauncher) UpgradeMasterBinary(_ context.Context, v string) (string, error) {
	return v, nil
}

func (f *fakeLauncher) NodeIdentity(_ context.Context, _ types.NodeID) (launcher.SpawnResult, error) {
	return launcher.SpawnResult{}, nil
}

func newTestBatcher(t *testing.T) (*Batcher, *nodemgr.NodeManager, *fakeLauncher, storage.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fl := &fakeLauncher{}
	mgr := nodemgr.New(store, locktable.New(), metrics.NewCache(store), fl,
		eventbus.New(logger), &nodemgr.BinVersionCell{}, logger)
	return New(ctx, mgr, store, eventbus.New(logger), logger), mgr, fl, store
}

func createNodes(t *testing.T, mgr *nodemgr.NodeManager, n int) []types.NodeID {
	t.Helper()
	ids := make([]types.NodeID, 0, n)
	for i := 0; i < n; i++ {
		info, err := mgr.CreateNode(context.Background(), types.NodeOpts{
			Port:        uint16(12000 + i),
			MetricsPort: uint16(14000 + i),
			RewardsAddr: testRewardsAddr,
		})
		require.NoError(t, err)
		ids = append(ids, info.NodeID)
	}
	return ids
}

func TestPrepareRejectsInvalidBatches(t *testing.T) {
	b, _, _, _ := newTestBatcher(t)
	ctx := context.Background()

	_, err := b.Prepare(ctx, types.BatchType{Kind: types.BatchStart}, 0)
	require.Error(t, err)
	assert.Equal(t, "invalid_input", nodemgr.ErrorKind(err))

	_, err = b.Prepare(ctx, types.BatchType{Kind: types.BatchCreate, Count: 2}, 0)
	assert.Equal(t, "invalid_input", nodemgr.ErrorKind(err))

	_, err = b.Prepare(ctx, types.BatchType{
		Kind:     types.BatchCreate,
		Count:    2,
		NodeOpts: &types.NodeOpts{Port: 12000, MetricsPort: 14000, RewardsAddr: "bogus"},
	}, 0)
	assert.Equal(t, "invalid_input", nodemgr.ErrorKind(err))
}

func TestCreateBatchCountZeroCompletesImmediately(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()

	batch, err := b.Prepare(ctx, types.BatchType{
		Kind:  types.BatchCreate,
		Count: 0,
		NodeOpts: &types.NodeOpts{
			Port:        12000,
			MetricsPort: 14000,
			RewardsAddr: testRewardsAddr,
		},
	}, 30)
	require.NoError(t, err)
	require.NotZero(t, batch.ID)

	// no steps to run: the runner retires it on its first pass
	require.Eventually(t, func() bool {
		return len(b.ScheduledBatches()) == 0
	}, time.Second, 20*time.Millisecond)

	nodes, err := mgr.ListNodes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestStartBatchRunsAllSteps(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()
	ids := createNodes(t, mgr, 3)

	batch, err := b.Prepare(ctx, types.BatchType{Kind: types.BatchStart, NodeIDs: ids}, 0)
	require.NoError(t, err)
	require.NotZero(t, batch.ID)

	require.Eventually(t, func() bool {
		nodes, err := mgr.ListNodes(ctx, &types.NodeFilter{Status: []types.NodeStatusFilter{types.FilterActive}})
		return err == nil && len(nodes) == 3
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(b.ScheduledBatches()) == 0
	}, time.Second, 20*time.Millisecond)

	// nodes are unlocked again once their step ran
	for _, id := range ids {
		assert.False(t, mgr.Locks().IsStillLocked(id))
	}
}

func TestCreateBatchIncrementsPorts(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()

	_, err := b.Prepare(ctx, types.BatchType{
		Kind:  types.BatchCreate,
		Count: 3,
		NodeOpts: &types.NodeOpts{
			Port:        12000,
			MetricsPort: 14000,
			RewardsAddr: testRewardsAddr,
		},
	}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		nodes, err := mgr.ListNodes(ctx, nil)
		return err == nil && len(nodes) == 3
	}, 3*time.Second, 20*time.Millisecond)

	nodes, err := mgr.ListNodes(ctx, nil)
	require.NoError(t, err)
	ports := map[uint16]bool{}
	for _, info := range nodes {
		ports[info.Port] = true
	}
	assert.Equal(t, map[uint16]bool{12000: true, 12001: true, 12002: true}, ports)
}

func TestCreateBatchPortOverflow(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()

	_, err := b.Prepare(ctx, types.BatchType{
		Kind:  types.BatchCreate,
		Count: 2,
		NodeOpts: &types.NodeOpts{
			Port:        65535,
			MetricsPort: 14000,
			RewardsAddr: testRewardsAddr,
		},
	}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		nodes, err := mgr.ListNodes(ctx, nil)
		return err == nil && len(nodes) == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(b.ScheduledBatches()) == 0
	}, time.Second, 20*time.Millisecond)
}

func TestSecondBatchOnSameNodeRejected(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()
	ids := createNodes(t, mgr, 1)

	// long interval keeps the first batch pending while we try again
	batch, err := b.Prepare(ctx, types.BatchType{Kind: types.BatchStart, NodeIDs: ids}, 30)
	require.NoError(t, err)

	_, err = b.Prepare(ctx, types.BatchType{Kind: types.BatchStop, NodeIDs: ids}, 0)
	require.Error(t, err)
	assert.Equal(t, "already_batched", nodemgr.ErrorKind(err))

	// direct actions are rejected too while the node is batched
	err = mgr.StartNode(ctx, ids[0])
	assert.Equal(t, "already_batched", nodemgr.ErrorKind(err))

	require.NoError(t, b.CancelBatch(ctx, batch.ID))
}

func TestCancelReleasesTargets(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()
	ids := createNodes(t, mgr, 2)

	batch, err := b.Prepare(ctx, types.BatchType{Kind: types.BatchStart, NodeIDs: ids}, 30)
	require.NoError(t, err)
	require.NoError(t, b.CancelBatch(ctx, batch.ID))

	require.Eventually(t, func() bool {
		return len(b.ScheduledBatches()) == 0
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if _, err := mgr.NodeInfo(ctx, id); err != nil {
				return false
			}
			if mgr.Locks().IsStillLocked(id) {
				return false
			}
		}
		nodes, err := mgr.ListNodes(ctx, nil)
		if err != nil {
			return false
		}
		for _, info := range nodes {
			if info.IsStatusLocked {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)

	assert.Error(t, b.CancelBatch(ctx, batch.ID), "cancelling twice reports not found")
}

func TestFullyFailedBatchRetainedUntilDismissed(t *testing.T) {
	b, mgr, fl, _ := newTestBatcher(t)
	ctx := context.Background()
	ids := createNodes(t, mgr, 2)

	fl.mu.Lock()
	fl.failSpawn = true
	fl.mu.Unlock()

	batch, err := b.Prepare(ctx, types.BatchType{Kind: types.BatchStart, NodeIDs: ids}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, q := range b.ScheduledBatches() {
			if q.ID == batch.ID && q.Status.IsFailed() {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	queued := b.ScheduledBatches()
	require.Len(t, queued, 1)
	assert.Equal(t, uint16(2), queued[0].Status.Failures)
	assert.Contains(t, queued[0].Status.LastError, "spawn refused")

	require.NoError(t, b.CancelBatch(ctx, batch.ID))
	assert.Empty(t, b.ScheduledBatches())
}

func TestPrepareOnMatchResolvesFilterOnce(t *testing.T) {
	b, mgr, _, _ := newTestBatcher(t)
	ctx := context.Background()
	ids := createNodes(t, mgr, 2)

	batch, err := b.PrepareOnMatch(ctx, types.BatchOnMatch{
		Kind:   types.StartOnMatch,
		Filter: types.NodeFilter{Status: []types.NodeStatusFilter{types.FilterCreated}},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStart, batch.Type.Kind)
	assert.ElementsMatch(t, ids, batch.Type.NodeIDs)

	_, err = b.PrepareOnMatch(ctx, types.BatchOnMatch{
		Kind:   types.StopOnMatch,
		Filter: types.NodeFilter{Status: []types.NodeStatusFilter{types.FilterUpgrading}},
	}, 0)
	require.Error(t, err)
	assert.Equal(t, "invalid_input", nodemgr.ErrorKind(err))
}
