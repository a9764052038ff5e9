package multiread

import (
	"sync"

	"github.com/pointcloud/voxelstream/inter/dsrc"
)

// LockTable serializes the reads of each data source.
type LockTable struct {
	mu    sync.Mutex
	locks map[dsrc.ID]*sourceLock
}

type sourceLock struct {
	sync.Mutex
	refs int
}

func NewLockTable() *LockTable {
	return &LockTable{
		locks: make(map[dsrc.ID]*sourceLock),
	}
}

// Acquire locks id and returns the guard releasing it.
// Calling the guard more than once is harmless.
func (t *LockTable) Acquire(id dsrc.ID) (release func()) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sourceLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.Unlock()
			t.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(t.locks, id)
			}
			t.mu.Unlock()
		})
	}
}

// Len is the number of sources locked or waited for.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
