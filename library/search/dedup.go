package search

import "sync"

// Deduplicator remembers which result ids were merged during one generation.
type Deduplicator struct {
	mu         sync.Mutex
	generation uint64
	ids        map[string]struct{}
}

// NewDeduplicator returns an empty set bound to generation.
func NewDeduplicator(generation uint64) *Deduplicator {
	return &Deduplicator{
		generation: generation,
		ids:        make(map[string]struct{}),
	}
}

// Accept inserts id and reports true if it was not present yet.
func (d *Deduplicator) Accept(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[id]; ok {
		return false
	}
	d.ids[id] = struct{}{}
	return true
}

// Contains reports whether id has been accepted.
func (d *Deduplicator) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Remove forgets ids so they can be accepted again.
func (d *Deduplicator) Remove(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.ids, id)
	}
}

// Reset atomically rebinds the set to generation and replaces its content with ids.
func (d *Deduplicator) Reset(generation uint64, ids ...string) {
	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}

	d.mu.Lock()
	d.generation = generation
	d.ids = fresh
	d.mu.Unlock()
}

// Len returns the number of accepted ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

// Generation returns the generation the set belongs to.
func (d *Deduplicator) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}
