package capture

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultProcessCacheTTL bounds how long a pid to name mapping is trusted.
const DefaultProcessCacheTTL = 30 * time.Second

type processEntry struct {
	name    string
	expires time.Time
}

// ProcessCache memoizes process-name lookups by pid.
// Failed lookups are cached too, as an empty name.
type ProcessCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	lookup  func(pid int) (string, error)
	entries map[int]processEntry
	now     func() time.Time
}

// NewProcessCache creates a cache. A zero ttl uses DefaultProcessCacheTTL and a
// nil lookup uses ProcComm.
func NewProcessCache(ttl time.Duration, lookup func(pid int) (string, error)) *ProcessCache {
	if ttl <= 0 {
		ttl = DefaultProcessCacheTTL
	}
	if lookup == nil {
		lookup = ProcComm
	}
	return &ProcessCache{
		ttl:     ttl,
		lookup:  lookup,
		entries: make(map[int]processEntry),
		now:     time.Now,
	}
}

// Name returns the process name for pid, or "" when it cannot be resolved.
func (c *ProcessCache) Name(pid int) string {
	if pid <= 0 {
		return ""
	}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[pid]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.name
	}
	c.mu.Unlock()

	name, err := c.lookup(pid)
	if err != nil {
		name = ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pid] = processEntry{name: name, expires: now.Add(c.ttl)}
	c.pruneLocked(now)
	return name
}

// pruneLocked drops expired entries once the map grows.
func (c *ProcessCache) pruneLocked(now time.Time) {
	if len(c.entries) < 256 {
		return
	}
	for pid, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, pid)
		}
	}
}

// ProcComm reads the command name of pid from procfs.
func ProcComm(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", fmt.Errorf("read comm for pid %d: %w", pid, err)
	}
	return strings.TrimSpace(string(b)), nil
}
