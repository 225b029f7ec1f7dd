package service

import "sync"

// ticketLocks hands out one mutex per ticket id. Entries are reference
// counted and dropped once no goroutine holds or waits for them.
type ticketLocks struct {
	mu    sync.Mutex
	locks map[string]*ticketLock
}

type ticketLock struct {
	sync.Mutex
	refs int
}

func newTicketLocks() *ticketLocks {
	return &ticketLocks{locks: make(map[string]*ticketLock)}
}

// lock blocks until ticketID is held and returns the matching unlock.
func (t *ticketLocks) lock(ticketID string) func() {
	t.mu.Lock()
	l, ok := t.locks[ticketID]
	if !ok {
		l = &ticketLock{}
		t.locks[ticketID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, ticketID)
		}
		t.mu.Unlock()
	}
}

func (t *ticketLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
