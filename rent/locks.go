package rent

import "sync"

// tenantLocks serializes read-plan-write sequences per tenant.
// Entries are reference counted and dropped when the last holder unlocks.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[TenantID]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[TenantID]*tenantLock)}
}

// lock blocks until the tenant is free and returns the matching unlock.
func (l *tenantLocks) lock(id TenantID) func() {
	l.mu.Lock()
	tl, ok := l.locks[id]
	if !ok {
		tl = &tenantLock{}
		l.locks[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held returns the number of tenants with a waiting or active holder.
func (l *tenantLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
