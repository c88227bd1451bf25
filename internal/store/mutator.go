package store

import "fmt"

// UpdaterFunc is a store edit supplied by application code: optimistic
// updaters and mutation commit updaters. It must be derivable purely from the
// state the Mutator exposes, because the publish queue discards and re-runs
// it whenever the layering underneath changes.
type UpdaterFunc func(m *Mutator) error

// RecordGetter is the read side a Mutator layers over: either the store
// itself or another Mutator.
type RecordGetter interface {
	RecordCopy(id DataID) (Record, bool)
}

// Mutator stages record writes over a base without touching it. A nil staged
// record marks a deletion.
type Mutator struct {
	base   RecordGetter
	staged map[DataID]Record
}

func NewMutator(base RecordGetter) *Mutator {
	return &Mutator{base: base, staged: make(map[DataID]Record)}
}

var _ RecordGetter = (*Mutator)(nil)

// RecordCopy returns the staged-over-base view of id.
func (m *Mutator) RecordCopy(id DataID) (Record, bool) {
	if r, ok := m.staged[id]; ok {
		if r == nil {
			return nil, false
		}
		return r.Clone(), true
	}
	return m.base.RecordCopy(id)
}

// Root returns the staged-over-base view of the root record.
func (m *Mutator) Root() Record {
	r, _ := m.RecordCopy(RootID)
	return r
}

// Create stages a new record under id. Creating over a live identity is an
// error; updaters that mean to overwrite should Delete first.
func (m *Mutator) Create(id DataID, typename string) error {
	if _, ok := m.RecordCopy(id); ok {
		return fmt.Errorf("store: record %q already exists", id)
	}
	r := Record{}
	if typename != "" {
		r[TypenameKey] = typename
	}
	m.staged[id] = r
	return nil
}

// Delete stages removal of the record under id.
func (m *Mutator) Delete(id DataID) {
	m.staged[id] = nil
}

// SetValue stages a scalar field write on an existing record.
func (m *Mutator) SetValue(id DataID, key string, value any) error {
	return m.setField(id, key, value)
}

// SetLinkedRecord stages a single-record link.
func (m *Mutator) SetLinkedRecord(id DataID, key string, target DataID) error {
	return m.setField(id, key, Ref{ID: target})
}

// SetLinkedRecords stages a plural link, replacing any previous value.
func (m *Mutator) SetLinkedRecords(id DataID, key string, targets []DataID) error {
	return m.setField(id, key, RefList(targets))
}

// AppendLinkedRecord stages appending one target to a plural link. A missing
// or null field starts a fresh list.
func (m *Mutator) AppendLinkedRecord(id DataID, key string, target DataID) error {
	record, ok := m.RecordCopy(id)
	if !ok {
		return fmt.Errorf("store: record %q not found", id)
	}
	var refs RefList
	switch v := record[key].(type) {
	case nil:
	case RefList:
		refs = v
	default:
		return fmt.Errorf("store: field %q of %q is not a linked record list", key, id)
	}
	return m.setField(id, key, append(refs, target))
}

func (m *Mutator) setField(id DataID, key string, value any) error {
	record, ok := m.RecordCopy(id)
	if !ok {
		return fmt.Errorf("store: record %q not found", id)
	}
	record[key] = value
	m.staged[id] = record
	return nil
}

// SetRecord stages a whole record under id, replacing any previous value.
// A nil record stages a deletion.
func (m *Mutator) SetRecord(id DataID, r Record) {
	m.staged[id] = r
}

// MergeSource overlays every record of src onto the staged view, field by
// field. Used to apply a normalized payload's writes.
func (m *Mutator) MergeSource(src *RecordSource) {
	for _, id := range src.IDs() {
		incoming, _ := src.Get(id)
		current, ok := m.RecordCopy(id)
		if !ok {
			m.staged[id] = incoming.Clone()
			continue
		}
		m.staged[id] = current.Merge(incoming)
	}
}

// MergeFrom folds another mutator's staged writes into this one.
func (m *Mutator) MergeFrom(other *Mutator) {
	for id, r := range other.staged {
		m.staged[id] = r
	}
}

// Staged exposes the accumulated write set.
func (m *Mutator) Staged() map[DataID]Record {
	return m.staged
}
