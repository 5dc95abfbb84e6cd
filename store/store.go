package store

import (
	"sync"
	"time"

	"github.com/hrygo/mnemo/internal/profile"
)

// Store provides database access to all raw objects.
//
// Writes for one owner are serialized by a per-owner lock. Reads go straight to
// the driver and observe the last committed state.
type Store struct {
	profile *profile.Profile
	driver  Driver

	locks    *ownerLocks
	profiles sync.Map // ownerID -> *OwnerProfile
	now      func() time.Time
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		locks:   newOwnerLocks(),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// ownerLocks hands out one mutex per owner. Entries are reference counted
// and dropped when no goroutine holds or waits on them.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*ownerLock)}
}

// Lock acquires the owner's writer lock and returns its release func.
func (l *ownerLocks) Lock(ownerID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[ownerID]
	if !ok {
		lk = &ownerLock{}
		l.locks[ownerID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, ownerID)
		}
		l.mu.Unlock()
	}
}

func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
