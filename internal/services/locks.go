package services

import (
	"sync"

	"breakthebill/internal/core"
)

// groupLocks hands out one mutex per group. Entries are dropped once no
// goroutine holds or waits for them.
type groupLocks struct {
	mu    sync.Mutex
	locks map[core.GroupID]*groupLock
}

type groupLock struct {
	sync.Mutex
	refs int
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[core.GroupID]*groupLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *groupLocks) lock(id core.GroupID) func() {
	l.mu.Lock()
	gl, ok := l.locks[id]
	if !ok {
		gl = &groupLock{}
		l.locks[id] = gl
	}
	gl.refs++
	l.mu.Unlock()

	gl.Lock()
	return func() {
		gl.Unlock()
		l.mu.Lock()
		gl.refs--
		if gl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *groupLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
