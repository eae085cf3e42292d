package nodemgr

import "sync"

// BinVersionCell shares the node binary version pair between the
// background version checker and the API/MCP surfaces: the newest
// version published upstream, and the version of the locally installed
// master binary.
type BinVersionCell struct {
	mu     sync.RWMutex
	latest string
	master string
}

func (c *BinVersionCell) SetLatest(v string) {
	c.mu.Lock()
	c.latest = v
	c.mu.Unlock()
}

// Latest returns the newest published node binary version, or "" when
// it has not been resolved yet.
func (c *BinVersionCell) Latest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *BinVersionCell) SetMaster(v string) {
	c.mu.Lock()
	c.master = v
	c.mu.Unlock()
}

// Master returns the version of the installed master binary.
func (c *BinVersionCell) Master() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.master
}
