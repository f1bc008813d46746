// Package presence tracks who is online according to the live channel.
package presence

import (
	"slices"
	"sync"
)

// Tracker holds the latest presence set. Every users frame carries the
// whole set, so updates replace rather than diff.
type Tracker struct {
	mu    sync.RWMutex
	users []string
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Replace(usernames []string) {
	next := slices.Clone(usernames)
	slices.Sort(next)
	next = slices.Compact(next)
	next = slices.DeleteFunc(next, func(u string) bool { return u == "" })

	t.mu.Lock()
	t.users = next
	t.mu.Unlock()
}

// Users returns the online users in sorted order.
func (t *Tracker) Users() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.users)
}

func (t *Tracker) Contains(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := slices.BinarySearch(t.users, username)
	return ok
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}
