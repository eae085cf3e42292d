// Package batcher queues multi-node operations and runs them one step
// at a time with a configurable delay, so a large fleet can be started,
// upgraded or recycled without hammering the host or the network.
package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/ledger"
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/types"
)

// lockSlackSecs pads the per-node status lock so it outlives the step
// that will act on the node.
const lockSlackSecs = 2

// Batcher owns the queue of scheduled batches. Batches run strictly one
// at a time, in FIFO order; a fully failed batch stays in the queue
// until it is dismissed.
type Batcher struct {
	mgr    *nodemgr.NodeManager
	store  storage.Store
	bus    *eventbus.Bus
	logger *slog.Logger

	// daemon-lifetime context the runner executes under
	ctx context.Context

	mu      sync.Mutex
	queue   []*types.NodesActionsBatch
	cancels map[uint16]chan struct{}
	running bool
}

// New builds a Batcher. ctx bounds the lifetime of the batch runner.
func New(ctx context.Context, mgr *nodemgr.NodeManager, store storage.Store,
	bus *eventbus.Bus, logger *slog.Logger,
) *Batcher {
	return &Batcher{
		mgr:     mgr,
		store:   store,
		bus:     bus,
		logger:  logger,
		ctx:     ctx,
		cancels: make(map[uint16]chan struct{}),
	}
}

// Prepare validates and enqueues a batch, locking the target nodes for
// the batch's expected lifetime. The runner is started when the queue
// was empty.
func (b *Batcher) Prepare(ctx context.Context, bt types.BatchType, intervalSecs uint64) (*types.NodesActionsBatch, error) {
	switch bt.Kind {
	case types.BatchCreate:
		// a zero count is accepted: the batch completes on its first
		// runner pass without creating anything
		if bt.NodeOpts == nil {
			return nil, fmt.Errorf("%w: a create batch needs node options", nodemgr.ErrInvalidInput)
		}
		addr, err := ledger.ValidateRewardsAddr(bt.NodeOpts.RewardsAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err)
		}
		bt.NodeOpts.RewardsAddr = addr
	case types.BatchStart, types.BatchStop, types.BatchUpgrade, types.BatchRecycle, types.BatchRemove:
		if len(bt.NodeIDs) == 0 {
			return nil, fmt.Errorf("%w: a %s batch requires at least one node id", nodemgr.ErrInvalidInput, bt.Kind)
		}
	default:
		return nil, fmt.Errorf("%w: unknown batch kind %q", nodemgr.ErrInvalidInput, bt.Kind)
	}

	if err := b.lockTargets(ctx, bt, intervalSecs); err != nil {
		return nil, err
	}

	batch := &types.NodesActionsBatch{
		ID:           b.newBatchID(),
		Type:         bt,
		IntervalSecs: intervalSecs,
		Status:       types.BatchStatus{Kind: types.BatchScheduled},
	}

	b.mu.Lock()
	b.queue = append(b.queue, batch)
	b.cancels[batch.ID] = make(chan struct{})
	if !b.running {
		b.running = true
		go b.run()
	}
	b.mu.Unlock()

	b.logger.Info("batch scheduled", "batch", batch.ID, "kind", bt.Kind, "steps", bt.Len(), "interval_secs", intervalSecs)
	b.dispatch(eventbus.NewEvent(eventbus.EventBatchQueued).WithBatch(batch.ID))
	return batch, nil
}

// PrepareOnMatch resolves a filter against the current fleet and
// enqueues the mapped batch over every matched node. Resolution happens
// here, once; nodes changing state later do not join the batch.
func (b *Batcher) PrepareOnMatch(ctx context.Context, req types.BatchOnMatch, intervalSecs uint64) (*types.NodesActionsBatch, error) {
	kind, ok := req.BatchKind()
	if !ok {
		return nil, fmt.Errorf("%w: unknown batch-on-match kind %q", nodemgr.ErrInvalidInput, req.Kind)
	}

	nodes, err := b.mgr.ListNodes(ctx, nil)
	if err != nil {
		return nil, err
	}
	var ids []types.NodeID
	for id, info := range nodes {
		if req.Filter.Matches(info) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no nodes matched the filter", nodemgr.ErrInvalidInput)
	}
	return b.Prepare(ctx, types.BatchType{Kind: kind, NodeIDs: ids}, intervalSecs)
}

// CancelBatch removes a scheduled batch, interrupts an in-progress one,
// or dismisses a failed one. Locked target nodes are released.
func (b *Batcher) CancelBatch(ctx context.Context, id uint16) error {
	b.mu.Lock()
	batch := b.find(id)
	if batch == nil {
		b.mu.Unlock()
		return nodemgr.ErrNotFound
	}

	// Always close the cancel channel: even a batch still marked
	// scheduled may have been picked up by the runner already.
	if ch, ok := b.cancels[id]; ok {
		close(ch)
		delete(b.cancels, id)
	}

	switch batch.Status.Kind {
	case types.BatchInProgress, types.BatchInProgressWithFailures:
		// the runner unlocks the remaining targets itself
		b.mu.Unlock()
	default:
		b.removeLocked(id)
		b.mu.Unlock()
		b.unlockTargets(ctx, batch.Type.Targets())
	}

	b.logger.Info("batch cancelled", "batch", id)
	return nil
}

// ScheduledBatches returns a snapshot of the queue, failed batches
// included.
func (b *Batcher) ScheduledBatches() []*types.NodesActionsBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.NodesActionsBatch, 0, len(b.queue))
	for _, batch := range b.queue {
		cp := *batch
		out = append(out, &cp)
	}
	return out
}

func (b *Batcher) lockTargets(ctx context.Context, bt types.BatchType, intervalSecs uint64) error {
	targets := bt.Targets()
	if len(targets) == 0 {
		return nil
	}
	ttl := time.Duration((intervalSecs+lockSlackSecs)*uint64(len(targets))) * time.Second

	var locked []types.NodeID
	for _, id := range targets {
		if _, err := b.store.CheckNodeIsNotBatched(ctx, id); err != nil {
			b.unlockTargets(ctx, locked)
			if err == storage.ErrAlreadyBatched {
				return fmt.Errorf("node %s: %w", id.Short(), nodemgr.ErrAlreadyBatched)
			}
			return err
		}
		if b.mgr.Locks().IsStillLocked(id) {
			b.unlockTargets(ctx, locked)
			return fmt.Errorf("node %s: %w", id.Short(), nodemgr.ErrAlreadyBatched)
		}
		b.mgr.Locks().Lock(id, ttl)
		if err := b.store.SetNodeStatusToLocked(ctx, id); err != nil {
			b.unlockTargets(ctx, locked)
			return err
		}
		locked = append(locked, id)
	}
	return nil
}

func (b *Batcher) unlockTargets(ctx context.Context, ids []types.NodeID) {
	for _, id := range ids {
		b.mgr.Locks().Remove(id)
		if err := b.store.UnlockNodeStatus(ctx, id); err != nil {
			b.logger.Warn("failed to unlock batched node", "node", id.Short(), "err", err)
		}
	}
}

// newBatchID picks a random non-zero id not already in the queue.
func (b *Batcher) newBatchID() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		id := uint16(rand.UintN(65535) + 1)
		if b.find(id) == nil {
			return id
		}
	}
}

// find and removeLocked require b.mu held.
func (b *Batcher) find(id uint16) *types.NodesActionsBatch {
	for _, batch := range b.queue {
		if batch.ID == id {
			return batch
		}
	}
	return nil
}

func (b *Batcher) removeLocked(id uint16) {
	for i, batch := range b.queue {
		if batch.ID == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			delete(b.cancels, id)
			return
		}
	}
}

func (b *Batcher) dispatch(e *eventbus.Event) {
	if b.bus == nil {
		return
	}
	if err := b.bus.Dispatch(b.ctx, e); err != nil {
		b.logger.Warn("failed to dispatch batch event", "type", string(e.Type), "err", err)
	}
}
