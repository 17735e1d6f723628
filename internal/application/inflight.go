package application

import "sync"

// inflight tracks bookings with a payment-side operation under way in this process.
type inflight struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newInflight() *inflight {
	return &inflight{ids: make(map[int64]struct{})}
}

// claim marks id as in flight. It returns false if id is already claimed.
func (f *inflight) claim(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

func (f *inflight) release(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
}
