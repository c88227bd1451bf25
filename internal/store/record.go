package store

import "reflect"

// DataID is the stable identity of a normalized record.
type DataID string

// RootID is the well-known identity of the operation root record.
const RootID DataID = "client:root"

// TypenameKey is the storage key holding a record's concrete type name.
const TypenameKey = "__typename"

// Ref is a stored link to another record.
type Ref struct {
	ID DataID
}

// RefList is a stored link to an ordered list of records. An empty DataID
// entry represents an explicit null list item.
type RefList []DataID

// Record maps storage keys to scalar values, Ref or RefList links. Records
// handed out by the store are copies; a published record is never mutated in
// place.
type Record map[string]any

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		if refs, ok := v.(RefList); ok {
			v = append(RefList(nil), refs...)
		}
		out[k] = v
	}
	return out
}

// Equal reports whether both records hold the same fields and values.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		ov, ok := other[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// Typename returns the record's concrete type name, if written.
func (r Record) Typename() string {
	name, _ := r[TypenameKey].(string)
	return name
}

// Merge overlays the fields of other onto a copy of r.
func (r Record) Merge(other Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// RecordSource is an in-memory set of records keyed by identity.
// It is not safe for concurrent use; the Store wraps it behind a mutex.
type RecordSource struct {
	records map[DataID]Record
}

func NewRecordSource() *RecordSource {
	return &RecordSource{records: make(map[DataID]Record)}
}

func (s *RecordSource) Get(id DataID) (Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

func (s *RecordSource) Set(id DataID, r Record) {
	s.records[id] = r
}

func (s *RecordSource) Delete(id DataID) {
	delete(s.records, id)
}

func (s *RecordSource) Has(id DataID) bool {
	_, ok := s.records[id]
	return ok
}

func (s *RecordSource) Size() int { return len(s.records) }

func (s *RecordSource) IDs() []DataID {
	ids := make([]DataID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

func (s *RecordSource) Clone() *RecordSource {
	out := NewRecordSource()
	for id, r := range s.records {
		out.records[id] = r.Clone()
	}
	return out
}
