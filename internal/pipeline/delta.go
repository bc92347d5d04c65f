package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/locflow/locflow/internal/delta"
	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/manifest"
)

func deltaDir(sessionID string) string {
	return "deltas/" + sessionID
}

func deltaPath(sessionID, relPath string) string {
	return deltaDir(sessionID) + "/" + relPath + ".json"
}

func snapshotPath(sourceLocale, relPath string) string {
	return "snapshots/" + sourceLocale + "/" + relPath
}

// buildDeltaFiles turns the source tree into the reduced file set for an
// incremental session. JSON files with a stored snapshot are diffed
// against it and contribute only their changed keys; unchanged files are
// skipped entirely. Markdown files are always carried whole: the line
// delta is informational and does not shrink the translation unit.
func (m *Machine) buildDeltaFiles(sess *Session) ([]manifest.SourceFile, error) {
	scanned, err := m.builder.ScanSource(sess.SourceLocale)
	if err != nil {
		return nil, err
	}

	var files []manifest.SourceFile
	for _, f := range scanned {
		if f.Kind != manifest.KindJSON {
			files = append(files, f)
			continue
		}

		snapData, err := m.work.Read(snapshotPath(sess.SourceLocale, f.Path))
		if err != nil {
			if !fault.IsKind(err, fault.NotFound) {
				return nil, err
			}
			// First sight of this file: translate it whole.
			files = append(files, f)
			continue
		}

		var old, current map[string]any
		if err := json.Unmarshal(snapData, &old); err != nil {
			return nil, fmt.Errorf("parsing snapshot of %s: %w", f.Path, err)
		}
		if err := json.Unmarshal(f.Content, &current); err != nil {
			return nil, fault.Wrap(fault.MalformedRecord, err, "source file %s is not a JSON object", f.Path)
		}

		d := delta.Diff(old, current)
		if d.Empty() {
			m.logger.Debug("skipping unchanged file", "sessionId", sess.ID, "path", f.Path)
			continue
		}

		deltaData, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		if err := m.work.Write(deltaPath(sess.ID, f.Path), deltaData); err != nil {
			return nil, err
		}

		reduced, err := json.MarshalIndent(delta.Changed(d), "", "  ")
		if err != nil {
			return nil, err
		}
		m.logger.Info("built delta file",
			"sessionId", sess.ID, "path", f.Path, "changes", d.Count(), "deleted", len(d.Deleted))
		files = append(files, manifest.SourceFile{
			Path:     f.Path,
			Category: f.Category,
			Kind:     f.Kind,
			Content:  reduced,
		})
	}
	return files, nil
}

// refreshSnapshot records the current source version of relPath so the
// next incremental session diffs against it.
func (m *Machine) refreshSnapshot(sess *Session, relPath string) error {
	data, err := m.content.Read(sess.SourceLocale + "/" + relPath)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil
		}
		return err
	}
	return m.work.Write(snapshotPath(sess.SourceLocale, relPath), data)
}
