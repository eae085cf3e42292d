package bgtasks

import (
	"sync"

	"github.com/formicaio/formicaiod/internal/types"
)

// StatsCell shares the latest fleet aggregate between the background
// loop that computes it and the API/MCP surfaces that read it.
type StatsCell struct {
	mu    sync.RWMutex
	stats types.Stats
}

func NewStatsCell() *StatsCell {
	return &StatsCell{stats: types.NewStats()}
}

func (c *StatsCell) Set(s types.Stats) {
	c.mu.Lock()
	c.stats = s
	c.mu.Unlock()
}

func (c *StatsCell) Get() types.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
