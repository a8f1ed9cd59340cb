package history

import "sync"

// LatestCache remembers the last snapshot returned per stream. It is only
// written by the latest query and lives as long as the process.
type LatestCache struct {
	mu      sync.Mutex
	entries map[string]Snapshot
}

func NewLatestCache() *LatestCache {
	return &LatestCache{entries: make(map[string]Snapshot)}
}

// lookup returns the cached snapshot if it was built from rowKey.
func (c *LatestCache) lookup(stream, rowKey string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[stream]
	if !ok || s.RowKey != rowKey {
		return Snapshot{}, false
	}
	return s.clone(), true
}

func (c *LatestCache) store(s Snapshot) {
	c.mu.Lock()
	c.entries[s.Stream] = s.clone()
	c.mu.Unlock()
}
