package gallery

import "sync"

// Projection is an ordered, duplicate-free sequence of entities displayed
// oldest-first. All mutations serialize on one mutex; reads take snapshots,
// so a reader never observes a half-applied append or remap.
type Projection struct {
	mu    sync.RWMutex
	order []Entity
	index map[string]int // id -> position in order
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{index: make(map[string]int)}
}

// Append adds entities at the tail, preserving their given order. An entity
// whose id is already present is skipped: streams can race a reset and
// re-deliver entries the projection already holds.
func (p *Projection) Append(entities ...Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entities {
		if _, dup := p.index[e.ID]; dup {
			continue
		}
		p.index[e.ID] = len(p.order)
		p.order = append(p.order, e)
	}
}

// Prepend inserts entities before the current head, used when older pages
// are loaded. Relative order of both the new block and the existing
// entities is preserved. Returns the count actually inserted.
func (p *Projection) Prepend(entities []Entity) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if _, dup := p.index[e.ID]; dup {
			continue
		}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return 0
	}

	p.order = append(fresh, p.order...)
	p.reindex()
	return len(fresh)
}

// Replace swaps the whole projection for entities (initial page load).
func (p *Projection) Replace(entities []Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = append(p.order[:0:0], entities...)
	p.reindex()
}

// Update patches the entity with the given id in place, preserving its
// position. Updating an id that is not present is a no-op and returns
// false.
func (p *Projection) Update(id string, patch Patch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.index[id]
	if !ok {
		return false
	}
	patch.apply(&p.order[pos])
	return true
}

// Remap rewrites entity identities in one pass under the write lock, so no
// reader observes a state where only some of the batch is renamed. A
// remapping whose old id is absent is skipped; one whose new id already
// exists elsewhere is skipped to keep the no-duplicate invariant.
func (p *Projection) Remap(remaps []Remapping) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range remaps {
		pos, ok := p.index[r.OldID]
		if !ok {
			continue
		}
		if other, exists := p.index[r.NewID]; exists && other != pos {
			continue
		}
		delete(p.index, r.OldID)
		p.index[r.NewID] = pos
		p.order[pos].ID = r.NewID
		p.order[pos].CorrelationID = r.NewCorrelationID
	}
}

// Reset clears the projection (view switch).
func (p *Projection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = nil
	p.index = make(map[string]int)
}

// Get returns a copy of the entity with the given id.
func (p *Projection) Get(id string) (Entity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.index[id]
	if !ok {
		return Entity{}, false
	}
	return p.order[pos], true
}

// Snapshot returns a copy of the ordered entities.
func (p *Projection) Snapshot() []Entity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entity, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of entities.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// CountByCorrelation returns how many entities carry the given correlation
// key.
func (p *Projection) CountByCorrelation(correlationID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.order {
		if e.CorrelationID == correlationID {
			n++
		}
	}
	return n
}

// reindex rebuilds the id index after a structural change. Caller holds the
// write lock.
func (p *Projection) reindex() {
	p.index = make(map[string]int, len(p.order))
	for i, e := range p.order {
		p.index[e.ID] = i
	}
}
