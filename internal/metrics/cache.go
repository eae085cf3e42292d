package metrics

import (
	"context"
	"math/big"
	"strconv"
	"sync"

	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/types"
)

// storedKeys is the subset of collected metrics persisted as historic
// time series; everything else lives only in the cache.
var storedKeys = map[string]struct{}{
	types.MetricKeyMemUsedMB: {},
	types.MetricKeyCPUUsage:  {},
}

// Cache keeps the latest scraped sample per node and key, writing the
// historic subset through to the store.
type Cache struct {
	mu      sync.RWMutex
	data    map[types.NodeID]map[string]types.NodeMetric
	unknown map[types.NodeID]struct{}
	store   storage.Store
}

// NewCache builds an empty cache backed by the given store.
func NewCache(store storage.Store) *Cache {
	return &Cache{
		data:    make(map[types.NodeID]map[string]types.NodeMetric),
		unknown: make(map[types.NodeID]struct{}),
		store:   store,
	}
}

// Store records a fresh sample set for the node: the historic subset is
// appended to the store, then the in-memory latest-value map for the
// node is replaced wholesale.
func (c *Cache) Store(ctx context.Context, id types.NodeID, metrics []types.NodeMetric) error {
	var historic []types.NodeMetric
	for _, m := range metrics {
		if _, ok := storedKeys[m.Key]; ok {
			historic = append(historic, m)
		}
	}
	if err := c.store.StoreNodeMetrics(ctx, id, historic); err != nil {
		return err
	}

	latest := make(map[string]types.NodeMetric, len(metrics))
	for _, m := range metrics {
		latest[m.Key] = m
	}

	c.mu.Lock()
	c.data[id] = latest
	delete(c.unknown, id)
	c.mu.Unlock()
	return nil
}

// MarkUnknown flags a node whose recorded status could not be
// re-observed (its metrics endpoint stopped answering).
func (c *Cache) MarkUnknown(id types.NodeID) {
	c.mu.Lock()
	c.unknown[id] = struct{}{}
	c.mu.Unlock()
}

// ClearUnknown removes the flag once the node is observable again.
func (c *Cache) ClearUnknown(id types.NodeID) {
	c.mu.Lock()
	delete(c.unknown, id)
	c.mu.Unlock()
}

// IsUnknown reports whether the node is currently flagged.
func (c *Cache) IsUnknown(id types.NodeID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.unknown[id]
	return ok
}

// RemoveNodeMetrics drops both the cache entry and the persisted series.
func (c *Cache) RemoveNodeMetrics(ctx context.Context, id types.NodeID) error {
	if err := c.store.DeleteNodeMetrics(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.data, id)
	delete(c.unknown, id)
	c.mu.Unlock()
	return nil
}

// GetNodeMetrics returns the node's persisted series with the given
// filter.
func (c *Cache) GetNodeMetrics(ctx context.Context, id types.NodeID, sinceMs int64) (types.Metrics, error) {
	return c.store.GetNodeMetrics(ctx, id, sinceMs)
}

// UpdateNodeInfo overlays the cached latest values onto the record.
// Each field parses independently; a malformed value for one key must
// not poison the others.
func (c *Cache) UpdateNodeInfo(info *types.NodeInstanceInfo) {
	c.mu.RLock()
	latest, ok := c.data[info.NodeID]
	_, unknown := c.unknown[info.NodeID]
	c.mu.RUnlock()
	if unknown {
		// stale samples must not masquerade as live network state
		info.SetStatusToUnknown()
		return
	}
	if !ok {
		return
	}

	if m, ok := latest[types.MetricKeyBalance]; ok {
		if v, ok := new(big.Int).SetString(m.Value, 10); ok {
			info.Rewards = v
		}
	}
	if m, ok := latest[types.MetricKeyMemUsedMB]; ok {
		if v, err := strconv.ParseFloat(m.Value, 64); err == nil {
			info.MemUsedMB = v
		}
	}
	if m, ok := latest[types.MetricKeyCPUUsage]; ok {
		if v, err := strconv.ParseFloat(m.Value, 64); err == nil {
			info.CPUUsagePct = v
		}
	}
	if m, ok := latest[types.MetricKeyRecords]; ok {
		if v, err := strconv.ParseUint(m.Value, 10, 64); err == nil {
			info.Records = v
		}
	}
	if m, ok := latest[types.MetricKeyRelevantRecords]; ok {
		if v, err := strconv.ParseUint(m.Value, 10, 64); err == nil {
			info.RelevantRecords = v
		}
	}
	if m, ok := latest[types.MetricKeyConnectedPeers]; ok {
		if v, err := strconv.ParseUint(m.Value, 10, 64); err == nil {
			info.ConnectedPeers = v
		}
	}
	if m, ok := latest[types.MetricKeyPeersInRT]; ok {
		if v, err := strconv.ParseUint(m.Value, 10, 64); err == nil {
			info.KBucketsPeers = v
		}
	}
	if m, ok := latest[types.MetricKeyShunnedCount]; ok {
		if v, err := strconv.ParseUint(m.Value, 10, 64); err == nil {
			info.ShunnedCount = v
		}
	}
	if m, ok := latest[types.MetricKeyNetSize]; ok {
		if v, err := strconv.ParseUint(m.Value, 10, 64); err == nil {
			info.NetSize = v
		}
	}
}
