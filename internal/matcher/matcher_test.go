package matcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/locflow/locflow/internal/manifest"
	"github.com/stretchr/testify/require"
)

func testManifest(ids ...string) *manifest.Manifest {
	m := &manifest.Manifest{BatchID: "ru_20250101T000000_aaaaaaaa"}
	for _, id := range ids {
		m.Files = append(m.Files, manifest.RequestRecord{
			CustomID:     id,
			Kind:         manifest.KindMarkdown,
			Category:     "docs",
			Path:         "docs/" + id + ".md",
			SourceLocale: "en",
			TargetLocale: "ru",
			FileName:     id + ".md",
		})
	}
	return m
}

func successLine(id, content string) string {
	body := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
	raw, _ := json.Marshal(map[string]any{
		"custom_id": id,
		"response":  map[string]any{"status_code": 200, "body": body},
	})
	return string(raw)
}

func TestProcessAllSuccesses(t *testing.T) {
	m := testManifest("id-1", "id-2", "id-3")
	var lines []string
	for i, id := range []string{"id-1", "id-2", "id-3"} {
		lines = append(lines, successLine(id, fmt.Sprintf("translated %d", i)))
	}

	results := NewProcessor(nil).Process(m, []byte(strings.Join(lines, "\n")+"\n"))
	require.Len(t, results, 3)

	for i, r := range results {
		require.Equal(t, StatusSuccess, r.Status)
		require.Equal(t, fmt.Sprintf("translated %d", i), r.Text)
		require.Equal(t, "ru", r.TargetLocale)
		require.Equal(t, "docs", r.Category)
		require.Empty(t, r.Error)
	}
}

func TestProcessUnknownCustomID(t *testing.T) {
	m := testManifest("id-1")
	out := successLine("id-1", "ok") + "\n" + successLine("id-unknown", "orphan")

	results := NewProcessor(nil).Process(m, []byte(out))
	require.Len(t, results, 2)

	require.Equal(t, StatusSuccess, results[0].Status)
	require.Equal(t, StatusError, results[1].Status)
	require.Equal(t, "id-unknown", results[1].CustomID)
	require.Equal(t, "No matching record in manifest", results[1].Error)
	require.Empty(t, results[1].Path)
}

func TestProcessPartialFailure(t *testing.T) {
	m := testManifest("id-1", "id-2")
	failed := `{"custom_id":"id-2","response":{"status_code":429,"body":{"error":{"message":"Rate limit exceeded"}}}}`
	out := successLine("id-1", "ok") + "\n" + failed

	results := NewProcessor(nil).Process(m, []byte(out))
	require.Len(t, results, 2)

	require.Equal(t, StatusSuccess, results[0].Status)

	require.Equal(t, StatusError, results[1].Status)
	require.Equal(t, "Rate limit exceeded", results[1].Error)
	require.Equal(t, "docs/id-2.md", results[1].Path, "error results keep their record context")
	require.Empty(t, results[1].Text)
}

func TestProcessTopLevelErrorBlock(t *testing.T) {
	m := testManifest("id-1")
	line := `{"custom_id":"id-1","response":{"status_code":500,"body":{}},"error":{"message":"internal error","code":"server_error"}}`

	results := NewProcessor(nil).Process(m, []byte(line))
	require.Len(t, results, 1)
	require.Equal(t, StatusError, results[0].Status)
	require.Equal(t, "internal error", results[0].Error)
}

func TestProcessSkipsMalformedLines(t *testing.T) {
	m := testManifest("id-1")
	out := strings.Join([]string{
		"not json at all",
		`{"custom_id":"","response":{"status_code":200}}`,
		`{"custom_id":"id-1"}`,
		successLine("id-1", "ok"),
		"",
		"   ",
	}, "\n")

	results := NewProcessor(nil).Process(m, []byte(out))
	require.Len(t, results, 1, "malformed and blank lines are skipped, not reported")
	require.Equal(t, StatusSuccess, results[0].Status)
}

func TestProcessEmptyContent(t *testing.T) {
	m := testManifest("id-1")
	results := NewProcessor(nil).Process(m, []byte(successLine("id-1", "")))
	require.Len(t, results, 1)
	require.Equal(t, StatusError, results[0].Status)
	require.Equal(t, "response contains no completion text", results[0].Error)
}

func TestProcessDecodesEscapedText(t *testing.T) {
	m := testManifest("id-1")
	// The completion arrives with double-escaped Unicode: the JSON layer
	// hands the matcher a literal \uXXXX sequence inside the content.
	escaped := `Привет`
	results := NewProcessor(nil).Process(m, []byte(successLine("id-1", escaped)))
	require.Len(t, results, 1)
	require.Equal(t, StatusSuccess, results[0].Status)
	require.Equal(t, "Привет", results[0].Text)
}

func TestDecodeUnicodeEscapes(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello", "hello"},
		{"already decoded untouched", "café Да", "café Да"},
		{"basic escape", `café`, "café"},
		{"cyrillic", `Да`, "Да"},
		{"surrogate pair", `😀`, "😀"},
		{"escape embedded in text", `ok: ✓ done`, "ok: ✓ done"},
		{"lone high surrogate kept literal", `\ud83d oops`, `\ud83d oops`},
		{"bad hex kept literal", `\uZZZZ`, `\uZZZZ`},
		{"truncated escape kept literal", `tail \u00`, `tail \u00`},
		{"mixed escaped and plain", `aбcд`, "aбcд"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DecodeUnicodeEscapes(tc.in))
		})
	}
}

func TestUnwrapTranslation(t *testing.T) {
	doc, ok := UnwrapTranslation(`{"translation":{"title":"Заголовок"}}`)
	require.True(t, ok)
	require.JSONEq(t, `{"title":"Заголовок"}`, string(doc))

	raw, ok := UnwrapTranslation("# Plain markdown")
	require.False(t, ok)
	require.Equal(t, "# Plain markdown", string(raw))

	raw, ok = UnwrapTranslation(`{"other":1}`)
	require.False(t, ok)
	require.Equal(t, `{"other":1}`, string(raw))
}
