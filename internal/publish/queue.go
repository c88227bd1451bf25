// Package publish maintains the ordered collection of pending store
// mutations — confirmed payload commits and optimistic updates — and
// recomputes the store's published state from it.
//
// The published state is always: confirmed base, all pending commits applied
// in insertion order, then every live optimistic update re-applied in
// insertion order on top. Optimistic effects are never mixed into the base;
// Run rolls the whole optimistic layer back to confirmed pre-images before
// applying commits, then rebuilds it, so reverting one update can never
// disturb data that other entries wrote.
package publish

import (
	"fmt"

	normalize "github.com/brandonmp/relay/internal/normalize"
	store "github.com/brandonmp/relay/internal/store"
)

// OptimisticUpdate is a re-derivable speculative edit. Identity is the
// pointer: the same *OptimisticUpdate passed to ApplyUpdate is what
// RevertUpdate later removes.
//
// Dropped, when set, is called if re-running Updater fails and the update is
// removed from the queue. It fires inside Run, which any operation's commit
// may have triggered, so the error reaches the update's owner instead of
// leaking into that operation's result.
type OptimisticUpdate struct {
	Updater store.UpdaterFunc
	Dropped func(error)
}

type commitEntry struct {
	selector store.Selector
	payload  *normalize.Payload
	updater  store.UpdaterFunc
}

// Queue is not safe for concurrent use. The environment serializes every
// call behind one mutex, together with the store writes Run produces.
type Queue struct {
	store *store.Store

	pendingCommits []commitEntry

	applied    []*OptimisticUpdate
	appliedSet map[*OptimisticUpdate]struct{}

	// backup holds the confirmed pre-image of every record the optimistic
	// layer currently shadows; nil value means the record did not exist.
	backup map[store.DataID]store.Record

	// dirty is set when optimistic membership changed since the last Run.
	dirty bool
}

func NewQueue(s *store.Store) *Queue {
	return &Queue{store: s, appliedSet: make(map[*OptimisticUpdate]struct{})}
}

// ApplyUpdate appends an optimistic entry. Nothing becomes observable until
// Run. Applying an update that is already queued is a no-op.
func (q *Queue) ApplyUpdate(u *OptimisticUpdate) {
	if _, ok := q.appliedSet[u]; ok {
		return
	}
	q.applied = append(q.applied, u)
	q.appliedSet[u] = struct{}{}
	q.dirty = true
}

// RevertUpdate removes a queued optimistic entry, wherever it sits in the
// order. Reverting an entry that is not queued is a no-op.
func (q *Queue) RevertUpdate(u *OptimisticUpdate) {
	if _, ok := q.appliedSet[u]; !ok {
		return
	}
	delete(q.appliedSet, u)
	for i, queued := range q.applied {
		if queued == u {
			q.applied = append(q.applied[:i], q.applied[i+1:]...)
			break
		}
	}
	q.dirty = true
}

// CommitPayload appends a confirmed-data entry. The optional updater runs
// exactly once, after the payload's own writes, before optimistic entries
// are re-layered.
func (q *Queue) CommitPayload(sel store.Selector, payload *normalize.Payload, updater store.UpdaterFunc) {
	q.pendingCommits = append(q.pendingCommits, commitEntry{selector: sel, payload: payload, updater: updater})
}

// HasPendingWork reports whether Run would change anything.
func (q *Queue) HasPendingWork() bool {
	return len(q.pendingCommits) > 0 || q.dirty
}

// Run recomputes the published record state and flushes it to the store as
// one batch. It returns the identities that changed.
//
// A failing commit updater rejects that entry wholesale; the confirmed base
// and every other entry are unaffected and the first such error is returned.
// A failing optimistic updater drops its update from the queue and reports
// through the update's own Dropped callback, never through Run's error: the
// returned error belongs to the caller's commits alone.
func (q *Queue) Run() ([]store.DataID, error) {
	if !q.HasPendingWork() {
		return nil, nil
	}
	var firstErr error
	acc := store.NewMutator(q.store)

	// Roll the optimistic layer back to confirmed pre-images.
	for id, record := range q.backup {
		acc.SetRecord(id, record)
	}
	q.backup = nil

	// Apply confirmed commits in insertion order, each staged in isolation
	// so a failure discards the whole entry.
	for _, entry := range q.pendingCommits {
		m := store.NewMutator(acc)
		if entry.payload != nil {
			m.MergeSource(entry.payload.Source)
		}
		if entry.updater != nil {
			if err := entry.updater(m); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("publish: commit updater: %w", err)
				}
				continue
			}
		}
		acc.MergeFrom(m)
	}
	q.pendingCommits = nil

	// Re-apply live optimistic updates, FIFO, on top of the new base.
	if len(q.applied) > 0 {
		layer := store.NewMutator(acc)
		kept := make([]*OptimisticUpdate, 0, len(q.applied))
		for _, u := range q.applied {
			m := store.NewMutator(layer)
			if err := u.Updater(m); err != nil {
				delete(q.appliedSet, u)
				if u.Dropped != nil {
					u.Dropped(fmt.Errorf("publish: optimistic updater: %w", err))
				}
				continue
			}
			layer.MergeFrom(m)
			kept = append(kept, u)
		}
		q.applied = kept

		if len(layer.Staged()) > 0 {
			backup := make(map[store.DataID]store.Record, len(layer.Staged()))
			for id := range layer.Staged() {
				if record, ok := acc.RecordCopy(id); ok {
					backup[id] = record
				} else {
					backup[id] = nil
				}
			}
			q.backup = backup
			acc.MergeFrom(layer)
		}
	}
	q.dirty = false

	return q.store.PublishSource(acc.Staged()), firstErr
}
