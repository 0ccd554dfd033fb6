package market

import "sync"

// WindowStore keeps a bounded rolling window of price samples per pair.
// Appends overwrite the oldest sample once the window is full. Safe for
// concurrent use; Snapshot returns a copy in arrival order.
type WindowStore struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*ring
}

type ring struct {
	samples []PriceSample
	head    int
	size    int
}

// NewWindowStore creates a store holding up to capacity samples per pair.
func NewWindowStore(capacity int) *WindowStore {
	if capacity < 1 {
		capacity = 1
	}
	return &WindowStore{
		capacity: capacity,
		windows:  make(map[string]*ring),
	}
}

// Append adds a sample to its pair's window, evicting the oldest sample
// when the window is at capacity.
func (ws *WindowStore) Append(sample PriceSample) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	r, ok := ws.windows[sample.Pair]
	if !ok {
		r = &ring{samples: make([]PriceSample, ws.capacity)}
		ws.windows[sample.Pair] = r
	}

	r.samples[(r.head+r.size)%len(r.samples)] = sample
	if r.size < len(r.samples) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.samples)
	}
}

// Snapshot returns a copy of the pair's window, oldest first.
func (ws *WindowStore) Snapshot(pair string) []PriceSample {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	r, ok := ws.windows[pair]
	if !ok || r.size == 0 {
		return nil
	}

	out := make([]PriceSample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.samples[(r.head+i)%len(r.samples)]
	}
	return out
}

// Size returns the number of samples currently held for a pair.
func (ws *WindowStore) Size(pair string) int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	if r, ok := ws.windows[pair]; ok {
		return r.size
	}
	return 0
}

// Pairs returns the pairs with at least one sample.
func (ws *WindowStore) Pairs() []string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	pairs := make([]string, 0, len(ws.windows))
	for pair, r := range ws.windows {
		if r.size > 0 {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}
