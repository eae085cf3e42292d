package batcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/types"
)

// errBatchCancelled aborts the in-flight batch from inside a step wait.
var errBatchCancelled = errors.New("batch cancelled")

// run drains the queue, one batch at a time. It exits when no
// schedulable batch remains; Prepare restarts it.
func (b *Batcher) run() {
	for {
		b.mu.Lock()
		var next *types.NodesActionsBatch
		for _, batch := range b.queue {
			if batch.Status.Kind == types.BatchScheduled {
				next = batch
				break
			}
		}
		if next == nil {
			b.running = false
			b.mu.Unlock()
			return
		}
		cancel := b.cancels[next.ID]
		b.mu.Unlock()

		b.runBatch(next, cancel)
	}
}

func (b *Batcher) runBatch(batch *types.NodesActionsBatch, cancel <-chan struct{}) {
	b.setBatchStatus(batch, types.BatchInProgress)
	b.logger.Info("batch started", "batch", batch.ID, "kind", batch.Type.Kind, "steps", batch.Type.Len())

	interval := time.Duration(batch.IntervalSecs) * time.Second
	steps := batch.Type.Len()

	for i := 0; i < steps; i++ {
		if err := b.wait(interval, cancel); err != nil {
			// remaining targets never ran; release them
			if targets := batch.Type.Targets(); i < len(targets) {
				b.unlockTargets(b.ctx, targets[i:])
			}
			b.mu.Lock()
			b.removeLocked(batch.ID)
			b.mu.Unlock()
			b.logger.Info("batch interrupted", "batch", batch.ID, "completed_steps", i)
			b.dispatch(eventbus.NewEvent(eventbus.EventBatchFinished).WithBatch(batch.ID))
			return
		}

		err := b.runStep(batch, i)
		b.mu.Lock()
		if err != nil {
			batch.Status.Failures++
			batch.Status.LastError = err.Error()
			batch.Status.Kind = types.BatchInProgressWithFailures
			b.mu.Unlock()
			b.logger.Warn("batch step failed", "batch", batch.ID, "step", i, "err", err)
			continue
		}
		batch.Complete++
		b.mu.Unlock()
	}

	b.mu.Lock()
	if steps > 0 && int(batch.Status.Failures) == steps {
		// fully failed batches stay visible until dismissed
		batch.Status.Kind = types.BatchFailed
	} else {
		b.removeLocked(batch.ID)
	}
	b.mu.Unlock()

	b.logger.Info("batch finished", "batch", batch.ID,
		"complete", batch.Complete, "failures", batch.Status.Failures)
	b.dispatch(eventbus.NewEvent(eventbus.EventBatchFinished).WithBatch(batch.ID))
}

func (b *Batcher) runStep(batch *types.NodesActionsBatch, i int) error {
	if batch.Type.Kind == types.BatchCreate {
		opts := *batch.Type.NodeOpts
		port := uint32(opts.Port) + uint32(i)
		metricsPort := uint32(opts.MetricsPort) + uint32(i)
		if port > 65535 || metricsPort > 65535 {
			return fmt.Errorf("port number overflowed while creating node %d of the batch", i+1)
		}
		opts.Port = uint16(port)
		opts.MetricsPort = uint16(metricsPort)
		_, err := b.mgr.CreateNode(b.ctx, opts)
		return err
	}

	id := batch.Type.NodeIDs[i]
	// release the batch lock so the action layer accepts the node
	b.unlockTargets(b.ctx, []types.NodeID{id})

	switch batch.Type.Kind {
	case types.BatchStart:
		return b.mgr.StartNode(b.ctx, id)
	case types.BatchStop:
		return b.mgr.StopNode(b.ctx, id)
	case types.BatchUpgrade:
		return b.mgr.UpgradeNode(b.ctx, id)
	case types.BatchRecycle:
		return b.mgr.RecycleNode(b.ctx, id)
	case types.BatchRemove:
		return b.mgr.DeleteNode(b.ctx, id)
	default:
		return fmt.Errorf("unknown batch kind %q", batch.Type.Kind)
	}
}

func (b *Batcher) setBatchStatus(batch *types.NodesActionsBatch, kind types.BatchStatusKind) {
	b.mu.Lock()
	batch.Status.Kind = kind
	b.mu.Unlock()
}

// wait sleeps for the inter-step delay, returning early when the batch
// is cancelled or the daemon shuts down.
func (b *Batcher) wait(d time.Duration, cancel <-chan struct{}) error {
	if d <= 0 {
		select {
		case <-cancel:
			return errBatchCancelled
		case <-b.ctx.Done():
			return context.Cause(b.ctx)
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-cancel:
		return errBatchCancelled
	case <-b.ctx.Done():
		return context.Cause(b.ctx)
	}
}
