package delta

import "strings"

// LineKind classifies a line-level change.
type LineKind string

const (
	LineAdded    LineKind = "added"
	LineDeleted  LineKind = "deleted"
	LineModified LineKind = "modified"
)

// LineChange is one differing position between two text documents.
type LineChange struct {
	Line int      `json:"lineNumber"`
	Old  string   `json:"oldLine,omitempty"`
	New  string   `json:"newLine,omitempty"`
	Kind LineKind `json:"kind"`
}

// DiffLines compares two text documents position by position, up to the
// longer document's length. Lines beyond one side's length are reported as
// added or deleted; differing same-index lines as modified.
//
// This is deliberately a positional comparison, not a minimal-edit diff: an
// inserted line shifts everything after it and shows up as a run of
// modified pairs plus a trailing added line. The output is informational
// only; it never shrinks the translation unit for text files.
func DiffLines(old, updated string) []LineChange {
	oldLines := splitLines(old)
	newLines := splitLines(updated)

	max := len(oldLines)
	if len(newLines) > max {
		max = len(newLines)
	}

	var changes []LineChange
	for i := 0; i < max; i++ {
		switch {
		case i >= len(oldLines):
			changes = append(changes, LineChange{Line: i + 1, New: newLines[i], Kind: LineAdded})
		case i >= len(newLines):
			changes = append(changes, LineChange{Line: i + 1, Old: oldLines[i], Kind: LineDeleted})
		case oldLines[i] != newLines[i]:
			changes = append(changes, LineChange{Line: i + 1, Old: oldLines[i], New: newLines[i], Kind: LineModified})
		}
	}
	return changes
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
