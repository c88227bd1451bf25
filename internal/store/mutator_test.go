package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMutatorStagesWithoutTouchingBase(t *testing.T) {
	s := New()
	seedUsers(s)

	m := NewMutator(s)
	require.NoError(t, m.SetValue("user:1", "name", "Alicia"))

	staged, ok := m.RecordCopy("user:1")
	require.True(t, ok)
	require.Equal(t, "Alicia", staged["name"])

	base, _ := s.RecordCopy("user:1")
	require.Equal(t, "Alice", base["name"])
}

func TestMutatorLayering(t *testing.T) {
	s := New()
	seedUsers(s)

	lower := NewMutator(s)
	require.NoError(t, lower.SetValue("user:1", "name", "Alicia"))

	upper := NewMutator(lower)
	got, ok := upper.RecordCopy("user:1")
	require.True(t, ok)
	require.Equal(t, "Alicia", got["name"], "upper layer reads through staged lower writes")

	require.NoError(t, upper.SetValue("user:1", "name", "Alize"))
	lowerView, _ := lower.RecordCopy("user:1")
	require.Equal(t, "Alicia", lowerView["name"])

	lower.MergeFrom(upper)
	merged, _ := lower.RecordCopy("user:1")
	require.Equal(t, "Alize", merged["name"])
}

func TestMutatorCreateDeleteAppend(t *testing.T) {
	s := New()
	seedUsers(s)

	m := NewMutator(s)
	require.NoError(t, m.Create("user:4", "User"))
	require.Error(t, m.Create("user:1", "User"), "creating over a live record fails")
	require.NoError(t, m.SetValue("user:4", "name", "Dave"))
	require.NoError(t, m.AppendLinkedRecord(RootID, "friends", "user:4"))

	root := m.Root()
	if diff := cmp.Diff(RefList{"user:2", "user:3", "user:4"}, root["friends"]); diff != "" {
		t.Fatalf("friends mismatch (-want +got):\n%s", diff)
	}

	m.Delete("user:3")
	_, ok := m.RecordCopy("user:3")
	require.False(t, ok)
	_, ok = s.RecordCopy("user:3")
	require.True(t, ok, "delete is staged, not published")
}

func TestMutatorSetOnMissingRecord(t *testing.T) {
	s := New()
	m := NewMutator(s)
	require.Error(t, m.SetValue("user:404", "name", "Nobody"))
	require.Error(t, m.AppendLinkedRecord("user:404", "friends", "user:1"))
}

func TestMutatorMergeSource(t *testing.T) {
	s := New()
	seedUsers(s)

	src := NewRecordSource()
	src.Set("user:1", Record{"name": "Alicia", "email": "a@example.com"})
	src.Set("user:9", Record{TypenameKey: "User", "id": "user:9", "name": "Zed"})

	m := NewMutator(s)
	m.MergeSource(src)

	merged, _ := m.RecordCopy("user:1")
	require.Equal(t, "Alicia", merged["name"])
	require.Equal(t, "a@example.com", merged["email"])
	require.Equal(t, "user:1", merged["id"], "existing fields survive the merge")

	fresh, ok := m.RecordCopy("user:9")
	require.True(t, ok)
	require.Equal(t, "Zed", fresh["name"])
}
