package dataservice

import (
	"sync"

	"github.com/roach88/unitao/internal/ir"
)

// keyLocks serializes work per record key. Entries are dropped when no
// goroutine holds or waits on them, so the map stays proportional to the
// number of in-flight mutations.
type keyLocks struct {
	mu    sync.Mutex
	locks map[ir.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: map[ir.Key]*keyLock{}}
}

// lock acquires the lock for k and returns its release function.
func (l *keyLocks) lock(k ir.Key) func() {
	l.mu.Lock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
