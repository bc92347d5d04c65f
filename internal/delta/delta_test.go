package delta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestDiff_AddedModifiedDeleted(t *testing.T) {
	old := doc(t, `{"title": "Home", "nav": {"about": "About", "blog": "Blog"}, "gone": "x"}`)
	updated := doc(t, `{"title": "Homepage", "nav": {"about": "About", "docs": "Docs"}, "fresh": "y"}`)

	d := Diff(old, updated)

	require.Equal(t, map[string]any{"fresh": "y", "nav": map[string]any{"docs": "Docs"}}, d.Added)
	require.Equal(t, map[string]any{"title": "Homepage"}, d.Modified)
	require.Equal(t, []string{"nav.blog", "gone"}, d.Deleted)
}

func TestDiff_Identity(t *testing.T) {
	a := doc(t, `{"a": 1, "b": {"c": [1, 2], "d": null}}`)
	d := Diff(a, a)
	require.True(t, d.Empty())
	require.Zero(t, d.Count())
}

func TestDiff_ArraysAreOpaque(t *testing.T) {
	old := doc(t, `{"tags": ["a", "b"]}`)
	updated := doc(t, `{"tags": ["a", "c"]}`)
	d := Diff(old, updated)
	require.Equal(t, map[string]any{"tags": []any{"a", "c"}}, d.Modified)
	require.Empty(t, d.Added)
}

func TestDiff_TypeChangeIsModified(t *testing.T) {
	old := doc(t, `{"nav": {"home": "Home"}}`)
	updated := doc(t, `{"nav": "simplified"}`)
	d := Diff(old, updated)
	require.Equal(t, map[string]any{"nav": "simplified"}, d.Modified)
	require.Empty(t, d.Deleted)
}

func TestMerge_RoundTrip(t *testing.T) {
	cases := []struct{ name, old, updated string }{
		{"flat", `{"a": 1, "b": 2}`, `{"a": 1, "c": 3}`},
		{"nested add", `{"nav": {"a": "A"}}`, `{"nav": {"a": "A", "b": "B"}}`},
		{"nested delete", `{"nav": {"a": "A", "b": "B"}, "x": 1}`, `{"nav": {"a": "A"}}`},
		{"deep modify", `{"p": {"q": {"r": "old"}}}`, `{"p": {"q": {"r": "new", "s": "add"}}}`},
		{"empty to full", `{}`, `{"a": {"b": "c"}}`},
		{"full to empty", `{"a": {"b": "c"}}`, `{}`},
		{"arrays", `{"tags": ["a"]}`, `{"tags": ["a", "b"]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			old := doc(t, tc.old)
			updated := doc(t, tc.updated)
			merged := Merge(old, Diff(old, updated))
			require.Equal(t, updated, merged)
		})
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	existing := doc(t, `{"nav": {"a": "A"}}`)
	d := Diff(existing, doc(t, `{"nav": {"a": "A", "b": "B"}}`))
	_ = Merge(existing, d)
	require.Equal(t, doc(t, `{"nav": {"a": "A"}}`), existing)
}

func TestMerge_MissingDeletePathIsNoOp(t *testing.T) {
	existing := doc(t, `{"a": 1}`)
	merged := Merge(existing, Delta{Deleted: []string{"nav.deep.key", "b"}})
	require.Equal(t, doc(t, `{"a": 1}`), merged)
}

func TestEmptyMatchesCount(t *testing.T) {
	deltas := []Delta{
		{},
		{Added: map[string]any{"a": 1}},
		{Deleted: []string{"x"}},
		{Modified: map[string]any{"m": 2}, Deleted: []string{"y"}},
	}
	for _, d := range deltas {
		require.Equal(t, d.Count() == 0, d.Empty())
	}
}

func TestChanged(t *testing.T) {
	old := doc(t, `{"title": "Home", "nav": {"a": "A"}, "gone": "x"}`)
	updated := doc(t, `{"title": "Homepage", "nav": {"a": "A", "b": "B"}}`)

	got := Changed(Diff(old, updated))
	require.Equal(t, doc(t, `{"title": "Homepage", "nav": {"b": "B"}}`), got)
}

func TestDiffLines(t *testing.T) {
	changes := DiffLines("one\ntwo\nthree", "one\n2\nthree\nfour")
	require.Equal(t, []LineChange{
		{Line: 2, Old: "two", New: "2", Kind: LineModified},
		{Line: 4, New: "four", Kind: LineAdded},
	}, changes)
}

func TestDiffLines_Deletions(t *testing.T) {
	changes := DiffLines("a\nb\nc", "a")
	require.Equal(t, []LineChange{
		{Line: 2, Old: "b", Kind: LineDeleted},
		{Line: 3, Old: "c", Kind: LineDeleted},
	}, changes)
}

func TestDiffLines_Equal(t *testing.T) {
	require.Empty(t, DiffLines("same\ntext", "same\ntext"))
	require.Empty(t, DiffLines("", ""))
}

// An insertion at the top shows up as modified pairs plus a trailing added
// line rather than one added line. Positional behavior, kept on purpose.
func TestDiffLines_PositionalNotMinimal(t *testing.T) {
	changes := DiffLines("a\nb", "new\na\nb")
	require.Len(t, changes, 3)
	require.Equal(t, LineModified, changes[0].Kind)
	require.Equal(t, LineModified, changes[1].Kind)
	require.Equal(t, LineAdded, changes[2].Kind)
}
