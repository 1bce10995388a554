package service

import "sync"

// ItemLocker serialises work per item id within the process. Entries are reference counted
// so the map does not grow with every item ever touched.
type ItemLocker struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int
}

// NewItemLocker constructs an empty locker.
func NewItemLocker() *ItemLocker {
	return &ItemLocker{locks: make(map[string]*itemLock)}
}

// Lock acquires the lock for id and returns the matching unlock function.
func (l *ItemLocker) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &itemLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *ItemLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
