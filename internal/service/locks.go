package service

import "sync"

// raceLocks serializes scoring runs per (game, race) pair so concurrent runs
// for the same race never interleave partial writes. The engine itself gives
// no such guarantee; this is the caller-side lock the contract requires.
type raceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRaceLocks() *raceLocks {
	return &raceLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the named key and returns its release function.
func (l *raceLocks) acquire(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
