package backend

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/open-power/pdbg/pkg/target"
)

type memKey struct {
	adu  *target.Target
	addr uint64
}

// cachedBackend keeps recently read memory words. Every run control
// operation and every release drops the cache.
type cachedBackend struct {
	Backend
	cache *lru.Cache
}

// CacheMemory wraps b so that Read64 results are kept in an LRU cache of
// size words. A size of zero or less returns b unchanged.
func CacheMemory(b Backend, size int) Backend {
	if size <= 0 {
		return b
	}
	cache, err := lru.New(size)
	if err != nil {
		return b
	}
	return &cachedBackend{Backend: b, cache: cache}
}

func (c *cachedBackend) Read64(adu *target.Target, addr uint64) (uint64, error) {
	k := memKey{adu, addr}
	if v, ok := c.cache.Get(k); ok {
		return v.(uint64), nil
	}
	v, err := c.Backend.Read64(adu, addr)
	if err != nil {
		return 0, err
	}
	c.cache.Add(k, v)
	return v, nil
}

func (c *cachedBackend) StartThread(t *target.Target) error {
	c.cache.Purge()
	return c.Backend.StartThread(t)
}

func (c *cachedBackend) StopThread(t *target.Target) error {
	c.cache.Purge()
	return c.Backend.StopThread(t)
}

func (c *cachedBackend) StepThread(t *target.Target, count int) error {
	c.cache.Purge()
	return c.Backend.StepThread(t, count)
}

func (c *cachedBackend) SResetThread(t *target.Target) error {
	c.cache.Purge()
	return c.Backend.SResetThread(t)
}

// Release forwards to the wrapped backend when it holds per-target state.
func (c *cachedBackend) Release(t *target.Target) error {
	c.cache.Purge()
	if r, ok := c.Backend.(target.Releaser); ok {
		return r.Release(t)
	}
	return nil
}
