// Package timeline merges history pages and live pushes into one ordered,
// deduplicated message sequence.
package timeline

import (
	"sync"

	"github.com/google/btree"

	"github.com/mahaj/whisper/pkg/model"
)

const degree = 32

// Timeline is ordered by message id. Insertion position never depends on
// arrival order, so a live push racing a backfill page ends up in the same
// place either way. The first delivery of an id wins.
type Timeline struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[model.Message]
	updated chan struct{}
}

func byID(a, b model.Message) bool { return a.ID < b.ID }

func New() *Timeline {
	return &Timeline{
		tree:    btree.NewG(degree, byID),
		updated: make(chan struct{}, 1),
	}
}

// Append adds a live message. It reports false for an id that is already
// present or not a valid server id.
func (t *Timeline) Append(m model.Message) bool {
	t.mu.Lock()
	added := t.insertLocked(m)
	t.mu.Unlock()
	if added {
		t.signal()
	}
	return added
}

// Prepend adds a backfilled page and returns how many messages were new.
func (t *Timeline) Prepend(msgs []model.Message) int {
	t.mu.Lock()
	n := 0
	for _, m := range msgs {
		if t.insertLocked(m) {
			n++
		}
	}
	t.mu.Unlock()
	if n > 0 {
		t.signal()
	}
	return n
}

// Replace swaps the content for page. Messages newer than everything in
// page are kept: they are live pushes that arrived while page was in flight.
func (t *Timeline) Replace(page []model.Message) {
	var newest int64
	for _, m := range page {
		if m.ID > newest {
			newest = m.ID
		}
	}

	t.mu.Lock()
	var keep []model.Message
	if newest > 0 {
		t.tree.AscendGreaterOrEqual(model.Message{ID: newest + 1}, func(m model.Message) bool {
			keep = append(keep, m)
			return true
		})
	}
	t.tree.Clear(false)
	for _, m := range page {
		t.insertLocked(m)
	}
	for _, m := range keep {
		t.insertLocked(m)
	}
	t.mu.Unlock()
	t.signal()
}

func (t *Timeline) insertLocked(m model.Message) bool {
	if m.ID <= 0 {
		return false
	}
	if t.tree.Has(m) {
		return false
	}
	t.tree.ReplaceOrInsert(m)
	return true
}

// Messages returns a snapshot in ascending id order.
func (t *Timeline) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Message, 0, t.tree.Len())
	t.tree.Ascend(func(m model.Message) bool {
		out = append(out, m)
		return true
	})
	return out
}

// After returns the messages with an id greater than id, ascending.
func (t *Timeline) After(id int64) []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []model.Message
	t.tree.AscendGreaterOrEqual(model.Message{ID: id + 1}, func(m model.Message) bool {
		out = append(out, m)
		return true
	})
	return out
}

func (t *Timeline) Oldest() (model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Min()
}

func (t *Timeline) Newest() (model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Max()
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

func (t *Timeline) Reset() {
	t.mu.Lock()
	t.tree.Clear(false)
	t.mu.Unlock()
	t.signal()
}

// Updated fires after the content changed. Signals coalesce; readers should
// take a fresh snapshot on every receive.
func (t *Timeline) Updated() <-chan struct{} {
	return t.updated
}

func (t *Timeline) signal() {
	select {
	case t.updated <- struct{}{}:
	default:
	}
}

// nearTopRatio is the share of the viewport height, measured from the top
// edge, within which scrolling asks for older messages.
const nearTopRatio = 0.2

// NearTop reports whether a scroll position is close enough to the top of
// the loaded window to request the previous page.
func NearTop(scrollTop, clientHeight float64) bool {
	return scrollTop <= clientHeight*nearTopRatio
}
