package services

import (
	"fmt"
	"sync"

	"github.com/chokdee888/backend/internal/models"
)

// accountLocks serializes mutations per account per ledger so two concurrent
// mutations never read the same stale balance. The optimistic version check
// on the row remains the guard against other processes.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for (userID, ledger) and returns its unlock func.
func (l *accountLocks) Lock(userID int64, ledger models.Ledger) func() {
	key := fmt.Sprintf("%d:%s", userID, ledger)

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
