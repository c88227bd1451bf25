package store

import "sync"

// Disposable releases a resource held against the store. Dispose is
// idempotent.
type Disposable interface {
	Dispose()
}

// Store owns the published record set. Reads (Lookup, Subscribe) may come
// from any goroutine; writes arrive as whole batches through PublishSource,
// which the publish queue serializes. Subscribers are notified only when a
// record their snapshot was read from actually changed.
type Store struct {
	mu       sync.Mutex
	source   *RecordSource
	subs     map[*subscription]struct{}
	retained map[int64]Selector
	nextID   int64
}

type subscription struct {
	store    *Store
	snapshot *Snapshot
	callback func(*Snapshot)
	disposed bool
}

func (s *subscription) Dispose() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	delete(s.store.subs, s)
}

func New() *Store {
	source := NewRecordSource()
	source.Set(RootID, Record{})
	return &Store{
		source:   source,
		subs:     make(map[*subscription]struct{}),
		retained: make(map[int64]Selector),
	}
}

// Lookup materializes a snapshot of the selector against the current record
// set.
func (s *Store) Lookup(sel Selector) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return read(s.source, sel)
}

// Subscribe registers callback to fire with a fresh snapshot whenever a
// record the given snapshot depends on changes.
func (s *Store) Subscribe(snapshot *Snapshot, callback func(*Snapshot)) Disposable {
	sub := &subscription{store: s, snapshot: snapshot, callback: callback}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Retain pins the records reachable through sel against garbage collection.
// Disposing the returned handle releases the pin; disposing twice is a no-op.
func (s *Store) Retain(sel Selector) Disposable {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.retained[id] = sel
	s.mu.Unlock()
	return &retainHandle{store: s, id: id}
}

type retainHandle struct {
	store *Store
	id    int64
	once  sync.Once
}

func (h *retainHandle) Dispose() {
	h.once.Do(func() {
		h.store.mu.Lock()
		delete(h.store.retained, h.id)
		h.store.mu.Unlock()
	})
}

// RecordCopy returns a copy of the record under id, so callers can never
// alias published state.
func (s *Store) RecordCopy(id DataID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.source.Get(id)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// PublishSource applies one batch of record writes. A nil Record deletes the
// identity; a write identical to the stored record is a no-op. Returns the
// identities that changed. Stale subscribers are re-read and notified after
// the batch is visible.
func (s *Store) PublishSource(writes map[DataID]Record) []DataID {
	s.mu.Lock()
	updated := make([]DataID, 0, len(writes))
	for id, record := range writes {
		if record == nil {
			if s.source.Has(id) {
				s.source.Delete(id)
				updated = append(updated, id)
			}
			continue
		}
		// An identical re-write, e.g. a restored backup followed by the same
		// optimistic layer, must not re-notify subscribers.
		if existing, ok := s.source.Get(id); ok && existing.Equal(record) {
			continue
		}
		s.source.Set(id, record)
		updated = append(updated, id)
	}

	type notice struct {
		sub  *subscription
		next *Snapshot
	}
	var notices []notice
	if len(updated) > 0 {
		for sub := range s.subs {
			if !overlaps(sub.snapshot.SeenIDs, updated) {
				continue
			}
			next := read(s.source, sub.snapshot.Selector)
			sub.snapshot = next
			notices = append(notices, notice{sub: sub, next: next})
		}
	}
	s.mu.Unlock()

	for _, n := range notices {
		n.sub.callback(n.next)
	}
	return updated
}

func overlaps(seen map[DataID]struct{}, updated []DataID) bool {
	for _, id := range updated {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}

// All returns a copy of every published record, keyed by identity.
func (s *Store) All() map[DataID]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[DataID]Record, s.source.Size())
	for _, id := range s.source.IDs() {
		r, _ := s.source.Get(id)
		out[id] = r.Clone()
	}
	return out
}

// GC deletes every record unreachable from the root and the retained
// selectors, and returns how many were collected.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reachable := map[DataID]struct{}{RootID: {}}
	for _, sel := range s.retained {
		snap := read(s.source, sel)
		for id := range snap.SeenIDs {
			reachable[id] = struct{}{}
		}
	}

	collected := 0
	for _, id := range s.source.IDs() {
		if _, ok := reachable[id]; !ok {
			s.source.Delete(id)
			collected++
		}
	}
	return collected
}
