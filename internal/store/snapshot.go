package store

import language "github.com/brandonmp/relay/internal/language"

// Snapshot is a read-only materialization of a selector over the record set
// at one point in time, plus the identities the result was read from.
// SeenIDs drives subscription invalidation: a snapshot is stale exactly when
// one of its seen records changes.
type Snapshot struct {
	Selector    Selector
	Data        map[string]any
	SeenIDs     map[DataID]struct{}
	MissingData bool
}

type reader struct {
	source  *RecordSource
	seen    map[DataID]struct{}
	missing bool
}

// read materializes a selector against the given source. Unwritten fields
// are left out of the result map and flag the snapshot as missing data.
func read(source *RecordSource, sel Selector) *Snapshot {
	r := &reader{source: source, seen: make(map[DataID]struct{})}
	data := r.readSelection(sel, sel.DataID)
	return &Snapshot{Selector: sel, Data: data, SeenIDs: r.seen, MissingData: r.missing}
}

func (r *reader) readSelection(sel Selector, id DataID) map[string]any {
	r.seen[id] = struct{}{}
	record, ok := r.source.Get(id)
	if !ok {
		r.missing = true
		return nil
	}

	out := make(map[string]any)
	for _, group := range sel.CollectFields(record.Typename()) {
		field := group.Fields[0]
		if field.Name == TypenameKey {
			out[group.ResponseKey] = record.Typename()
			continue
		}
		value, ok := record[sel.StorageKey(field)]
		if !ok {
			r.missing = true
			continue
		}
		out[group.ResponseKey] = r.readValue(sel, group, value)
	}
	return out
}

func (r *reader) readValue(sel Selector, group collectedField, value any) any {
	switch v := value.(type) {
	case Ref:
		return r.readSelection(sel.Child(v.ID, mergeSelections(group.Fields)), v.ID)
	case RefList:
		items := make([]any, len(v))
		for i, id := range v {
			if id == "" {
				items[i] = nil
				continue
			}
			items[i] = r.readSelection(sel.Child(id, mergeSelections(group.Fields)), id)
		}
		return items
	case []any:
		// Nested list: each item is itself a RefList or a deeper list.
		items := make([]any, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			items[i] = r.readValue(sel, group, item)
		}
		return items
	default:
		return value
	}
}

func mergeSelections(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
