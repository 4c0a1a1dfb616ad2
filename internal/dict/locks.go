package dict

import "sync"

// LockPool is a fixed set of mutexes shared by many more objects than it
// holds. Object i uses mutex i&(n-1), so unrelated objects may contend.
type LockPool struct {
	mu   []sync.Mutex
	mask uint64
}

// NewLockPool returns a pool of n mutexes. n must be a power of two.
func NewLockPool(n int) *LockPool {
	return &LockPool{mu: make([]sync.Mutex, n), mask: uint64(n - 1)}
}

// Bucket returns the mutex index guarding id.
func (p *LockPool) Bucket(id uint64) int { return int(id & p.mask) }

// Lock acquires the mutex guarding id.
func (p *LockPool) Lock(id uint64) { p.mu[id&p.mask].Lock() }

// Unlock releases the mutex guarding id.
func (p *LockPool) Unlock(id uint64) { p.mu[id&p.mask].Unlock() }
