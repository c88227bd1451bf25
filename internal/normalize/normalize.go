// Package normalize turns one raw GraphQL response object into per-record
// field writes, driven by the selection shape the response answered.
package normalize

import (
	"fmt"
	"strconv"

	language "github.com/brandonmp/relay/internal/language"
	store "github.com/brandonmp/relay/internal/store"
)

// Options controls normalization behavior.
type Options struct {
	// HandleStrippedNulls writes an explicit null for selected fields the
	// response left out entirely. Query and subscription responses enable
	// this; direct payload commits do not.
	HandleStrippedNulls bool
}

// Payload is the normalized result of one response: a write set plus the
// references whose records arrived as bare identities (deferred nodes).
type Payload struct {
	Source       *store.RecordSource
	DanglingRefs []store.DataID
}

// Normalize walks data under the shape of sel and produces the record writes
// it implies. Any shape mismatch aborts with an error and no payload; a
// response is normalized wholly or not at all.
func Normalize(sel store.Selector, data map[string]any, opts Options) (*Payload, error) {
	n := &normalizer{
		selector: sel,
		opts:     opts,
		source:   store.NewRecordSource(),
	}
	if err := n.visitObject(sel, sel.DataID, data); err != nil {
		return nil, err
	}
	return &Payload{Source: n.source, DanglingRefs: n.dangling}, nil
}

type normalizer struct {
	selector store.Selector
	opts     Options
	source   *store.RecordSource
	dangling []store.DataID
}

func (n *normalizer) visitObject(sel store.Selector, id store.DataID, data map[string]any) error {
	record, ok := n.source.Get(id)
	if !ok {
		record = store.Record{}
		n.source.Set(id, record)
	}
	if typename, ok := data[store.TypenameKey].(string); ok {
		record[store.TypenameKey] = typename
	}
	if idValue, ok := data["id"]; ok {
		record["id"] = idValue
	}

	typename, _ := record[store.TypenameKey].(string)
	selected, answered := 0, 0
	for _, group := range sel.CollectFields(typename) {
		field := group.Fields[0]
		if field.Name == store.TypenameKey {
			continue
		}
		storageKey := sel.StorageKey(field)
		if field.Name != "id" {
			selected++
		}

		value, present := data[group.ResponseKey]
		if present && field.Name != "id" {
			answered++
		}
		if !present {
			if n.opts.HandleStrippedNulls {
				record[storageKey] = nil
			}
			continue
		}
		if value == nil {
			record[storageKey] = nil
			continue
		}

		if len(fieldSelections(group.Fields)) == 0 {
			// Leaf field: store the raw scalar.
			record[storageKey] = value
			continue
		}

		switch v := value.(type) {
		case map[string]any:
			childID := n.identify(v, id, storageKey)
			record[storageKey] = store.Ref{ID: childID}
			if err := n.visitObject(sel.Child(childID, fieldSelections(group.Fields)), childID, v); err != nil {
				return err
			}
		case []any:
			list, err := n.visitList(sel, group.ResponseKey, fieldSelections(group.Fields), id, storageKey, v)
			if err != nil {
				return err
			}
			record[storageKey] = list
		default:
			return fmt.Errorf("normalize: field %q: expected object or list, got %T", group.ResponseKey, value)
		}
	}

	// A record that arrived as a bare identity — body selected but entirely
	// absent — is a dangling reference the caller may want to refetch.
	if _, hasID := data["id"]; hasID && selected > 0 && answered == 0 {
		n.dangling = append(n.dangling, id)
	}
	return nil
}

// visitList normalizes one list value. Object items become a RefList; list
// items recurse, so a matrix of objects normalizes to nested lists of refs.
// The first non-nil item fixes the shape the rest must follow.
func (n *normalizer) visitList(sel store.Selector, responseKey string, selections language.SelectionSet, parent store.DataID, storageKey string, items []any) (any, error) {
	var shape any
	for _, item := range items {
		if item != nil {
			shape = item
			break
		}
	}
	switch shape.(type) {
	case nil, map[string]any:
		refs := make(store.RefList, len(items))
		for i, item := range items {
			if item == nil {
				refs[i] = ""
				continue
			}
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("normalize: field %q item %d: expected object, got %T", responseKey, i, item)
			}
			childID := n.identify(obj, parent, storageKey+":"+strconv.Itoa(i))
			refs[i] = childID
			if err := n.visitObject(sel.Child(childID, selections), childID, obj); err != nil {
				return nil, err
			}
		}
		return refs, nil
	case []any:
		out := make([]any, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			inner, ok := item.([]any)
			if !ok {
				return nil, fmt.Errorf("normalize: field %q item %d: expected list, got %T", responseKey, i, item)
			}
			value, err := n.visitList(sel, responseKey, selections, parent, storageKey+":"+strconv.Itoa(i), inner)
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("normalize: field %q: expected object or list, got %T", responseKey, shape)
	}
}

// identify picks the record identity for an object value: its server id when
// present, else a client id derived from where it sits.
func (n *normalizer) identify(data map[string]any, parent store.DataID, storageKey string) store.DataID {
	if id, ok := data["id"].(string); ok && id != "" {
		return store.DataID(id)
	}
	return store.DataID(string(parent) + ":" + storageKey)
}

func fieldSelections(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}
