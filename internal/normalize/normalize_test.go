package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/brandonmp/relay/internal/language"
	store "github.com/brandonmp/relay/internal/store"
)

func mustSelector(t *testing.T, query string, variables map[string]any) store.Selector {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err, "parse query")
	sel, err := store.OperationSelector(doc, "", variables)
	require.NoError(t, err, "build selector")
	return sel
}

func sourceRecords(src *store.RecordSource) map[store.DataID]store.Record {
	out := make(map[store.DataID]store.Record)
	for _, id := range src.IDs() {
		r, _ := src.Get(id)
		out[id] = r
	}
	return out
}

func TestNormalizeNestedObjects(t *testing.T) {
	sel := mustSelector(t, `{ me { id __typename name bestFriend { id name } } }`, nil)
	payload, err := Normalize(sel, map[string]any{
		"me": map[string]any{
			"id": "user:1", "__typename": "User", "name": "Alice",
			"bestFriend": map[string]any{"id": "user:2", "name": "Bob"},
		},
	}, Options{})
	require.NoError(t, err)

	want := map[store.DataID]store.Record{
		store.RootID: {"me": store.Ref{ID: "user:1"}},
		"user:1":     {"__typename": "User", "id": "user:1", "name": "Alice", "bestFriend": store.Ref{ID: "user:2"}},
		"user:2":     {"id": "user:2", "name": "Bob"},
	}
	if diff := cmp.Diff(want, sourceRecords(payload.Source)); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, payload.DanglingRefs)
}

func TestNormalizeClientIDs(t *testing.T) {
	sel := mustSelector(t, `{ settings { theme } }`, nil)
	payload, err := Normalize(sel, map[string]any{
		"settings": map[string]any{"theme": "dark"},
	}, Options{})
	require.NoError(t, err)

	childID := store.DataID(string(store.RootID) + ":settings")
	want := map[store.DataID]store.Record{
		store.RootID: {"settings": store.Ref{ID: childID}},
		childID:      {"theme": "dark"},
	}
	if diff := cmp.Diff(want, sourceRecords(payload.Source)); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeLists(t *testing.T) {
	sel := mustSelector(t, `{ friends { id name } }`, nil)
	payload, err := Normalize(sel, map[string]any{
		"friends": []any{
			map[string]any{"id": "user:2", "name": "Bob"},
			nil,
			map[string]any{"id": "user:3", "name": "Carol"},
		},
	}, Options{})
	require.NoError(t, err)

	root, _ := payload.Source.Get(store.RootID)
	if diff := cmp.Diff(store.RefList{"user:2", "", "user:3"}, root["friends"]); diff != "" {
		t.Fatalf("friends link mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeNestedLists(t *testing.T) {
	sel := mustSelector(t, `{ board { id grid { id value } } }`, nil)
	payload, err := Normalize(sel, map[string]any{
		"board": map[string]any{
			"id": "board:1",
			"grid": []any{
				[]any{
					map[string]any{"id": "cell:1", "value": 1},
					map[string]any{"id": "cell:2", "value": 2},
				},
				nil,
				[]any{map[string]any{"id": "cell:3", "value": 3}},
			},
		},
	}, Options{})
	require.NoError(t, err)

	want := map[store.DataID]store.Record{
		store.RootID: {"board": store.Ref{ID: "board:1"}},
		"board:1": {
			"id":   "board:1",
			"grid": []any{store.RefList{"cell:1", "cell:2"}, nil, store.RefList{"cell:3"}},
		},
		"cell:1": {"id": "cell:1", "value": 1},
		"cell:2": {"id": "cell:2", "value": 2},
		"cell:3": {"id": "cell:3", "value": 3},
	}
	if diff := cmp.Diff(want, sourceRecords(payload.Source)); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	_, err = Normalize(sel, map[string]any{
		"board": map[string]any{
			"id":   "board:1",
			"grid": []any{[]any{map[string]any{"id": "cell:1", "value": 1}}, map[string]any{"id": "cell:2"}},
		},
	}, Options{})
	require.ErrorContains(t, err, "expected list")
}

func TestNormalizeArgumentStorageKeys(t *testing.T) {
	sel := mustSelector(t,
		`query Q($n: Int!) { friends(first: $n, after: "x") { id } }`,
		map[string]any{"n": 2})
	payload, err := Normalize(sel, map[string]any{
		"friends": []any{map[string]any{"id": "user:2"}},
	}, Options{})
	require.NoError(t, err)

	root, _ := payload.Source.Get(store.RootID)
	_, ok := root[`friends(after:"x",first:2)`]
	require.True(t, ok, "arguments must be folded into the storage key, got %v", root)
}

func TestNormalizeStrippedNulls(t *testing.T) {
	sel := mustSelector(t, `{ me { id name email } }`, nil)
	data := map[string]any{"me": map[string]any{"id": "user:1", "name": "Alice"}}

	stripped, err := Normalize(sel, data, Options{HandleStrippedNulls: true})
	require.NoError(t, err)
	record, _ := stripped.Source.Get("user:1")
	v, ok := record["email"]
	require.True(t, ok)
	require.Nil(t, v, "absent field becomes an explicit null")

	plain, err := Normalize(sel, data, Options{})
	require.NoError(t, err)
	record, _ = plain.Source.Get("user:1")
	_, ok = record["email"]
	require.False(t, ok, "absent field stays unwritten without stripped-null handling")
}

func TestNormalizeShapeMismatch(t *testing.T) {
	sel := mustSelector(t, `{ me { id name } }`, nil)
	_, err := Normalize(sel, map[string]any{"me": "not an object"}, Options{})
	require.Error(t, err)

	_, err = Normalize(sel, map[string]any{"me": []any{42}}, Options{})
	require.Error(t, err)
}

func TestNormalizeDanglingRefs(t *testing.T) {
	sel := mustSelector(t, `{ me { id name bestFriend { id name } } }`, nil)
	payload, err := Normalize(sel, map[string]any{
		"me": map[string]any{
			"id": "user:1", "name": "Alice",
			// Body deferred: identity only.
			"bestFriend": map[string]any{"id": "user:2"},
		},
	}, Options{})
	require.NoError(t, err)
	require.Equal(t, []store.DataID{"user:2"}, payload.DanglingRefs)
}
