package gallery

import (
	"context"
	"fmt"
	"sync"
)

// PageFunc fetches one page of a backing query. Pages are returned
// newest-first (descending creation time) so the latest page is cheap to
// serve; the store reverses each page before merging into the oldest-first
// display order.
type PageFunc func(ctx context.Context, offset, limit int) ([]Entity, error)

// Store is the single source of truth for the gallery and timeline
// projections of one view. Mutations are serialized per store; reads go
// through projection snapshots and never observe a half-applied operation.
//
// OnAppend and OnUpdate, when set, fire after each successful mutation.
// They are invoked outside the projection locks, so callbacks may read the
// store freely.
type Store struct {
	gallery  *Projection
	timeline *Projection

	OnAppend func(Entity)
	OnUpdate func(id string, patch Patch)

	mu       sync.Mutex // guards pagination state below
	fetchers map[Kind]PageFunc
	pageSize int
	cursor   map[Kind]int
	hasMore  map[Kind]bool
}

// NewStore creates a store with empty projections. galleryPages and
// timelinePages may be nil when a view has no backing query (tests,
// ephemeral sessions); Load and LoadOlder then fail cleanly.
func NewStore(pageSize int, galleryPages, timelinePages PageFunc) *Store {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Store{
		gallery:  NewProjection(),
		timeline: NewProjection(),
		fetchers: map[Kind]PageFunc{KindImage: galleryPages, KindMessage: timelinePages},
		pageSize: pageSize,
		cursor:   map[Kind]int{},
		hasMore:  map[Kind]bool{},
	}
}

// Gallery returns the image projection.
func (s *Store) Gallery() *Projection { return s.gallery }

// Timeline returns the conversational projection.
func (s *Store) Timeline() *Projection { return s.timeline }

func (s *Store) projection(kind Kind) *Projection {
	if kind == KindMessage {
		return s.timeline
	}
	return s.gallery
}

// Append adds entities at the tail of their projection and notifies. Each
// projection receives its slice of the batch in a single locked insert, so
// a concurrent reader sees either none or all of the batch; callbacks fire
// only after every entity is in place.
func (s *Store) Append(entities ...Entity) {
	var images, messages []Entity
	for _, e := range entities {
		if e.Kind == KindMessage {
			messages = append(messages, e)
		} else {
			images = append(images, e)
		}
	}
	if len(images) > 0 {
		s.gallery.Append(images...)
	}
	if len(messages) > 0 {
		s.timeline.Append(messages...)
	}
	if s.OnAppend != nil {
		for _, e := range entities {
			s.OnAppend(e)
		}
	}
}

// Update patches one entity in place, in whichever projection holds it.
// Unknown ids are a no-op: a stream may report updates for entities a reset
// already evicted.
func (s *Store) Update(id string, patch Patch) bool {
	applied := s.gallery.Update(id, patch) || s.timeline.Update(id, patch)
	if applied && s.OnUpdate != nil {
		s.OnUpdate(id, patch)
	}
	return applied
}

// Remap atomically rewrites a batch of entity identities; see
// Projection.Remap for the invariants.
func (s *Store) Remap(remaps []Remapping) {
	s.gallery.Remap(remaps)
	s.timeline.Remap(remaps)
}

// Get looks up an entity by id across both projections.
func (s *Store) Get(id string) (Entity, bool) {
	if e, ok := s.gallery.Get(id); ok {
		return e, true
	}
	return s.timeline.Get(id)
}

// Load replaces the projection with the reversed first page and resets the
// pagination cursor.
func (s *Store) Load(ctx context.Context, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.fetchPage(ctx, kind, 0)
	if err != nil {
		return err
	}
	reverse(page)
	s.projection(kind).Replace(page)
	s.cursor[kind] = len(page)
	s.hasMore[kind] = len(page) == s.pageSize
	return nil
}

// LoadOlder fetches the next page toward older items and prepends it.
// Returns the count of entities prepended so the caller's viewport can
// compensate for the added content.
func (s *Store) LoadOlder(ctx context.Context, kind Kind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.fetchPage(ctx, kind, s.cursor[kind])
	if err != nil {
		return 0, err
	}
	reverse(page)
	n := s.projection(kind).Prepend(page)
	s.cursor[kind] += len(page)
	s.hasMore[kind] = len(page) == s.pageSize
	return n, nil
}

// HasMore reports whether older items remain beyond the current cursor.
func (s *Store) HasMore(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore[kind]
}

// Reset clears both projections and all pagination state (view switch).
func (s *Store) Reset() {
	s.mu.Lock()
	s.cursor = map[Kind]int{}
	s.hasMore = map[Kind]bool{}
	s.mu.Unlock()
	s.gallery.Reset()
	s.timeline.Reset()
}

// fetchPage runs the backing query for kind at offset. Caller holds s.mu.
func (s *Store) fetchPage(ctx context.Context, kind Kind, offset int) ([]Entity, error) {
	fetch := s.fetchers[kind]
	if fetch == nil {
		return nil, fmt.Errorf("no page source configured for %s projection", kind)
	}
	page, err := fetch(ctx, offset, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page at offset %d: %w", kind, offset, err)
	}
	return page, nil
}

func reverse(entities []Entity) {
	for i, j := 0, len(entities)-1; i < j; i, j = i+1, j-1 {
		entities[i], entities[j] = entities[j], entities[i]
	}
}
