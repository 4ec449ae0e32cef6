package engine

import "sync"

// lockTable hands out one mutex per key and drops it once no goroutine holds
// or waits on it. The zero value is ready to use.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (t *lockTable) lock(key string) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*keyLock)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
