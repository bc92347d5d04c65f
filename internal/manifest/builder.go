package manifest

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/locales"
	"github.com/locflow/locflow/internal/store"
)

// ChatCompletionsEndpoint is the provider endpoint every request line
// targets.
const ChatCompletionsEndpoint = "/v1/chat/completions"

var (
	// ErrNoMatchingFiles means the file/category filters selected nothing.
	ErrNoMatchingFiles = fault.New(fault.Validation, "no source files match the requested filters")

	// ErrNoValidTargetLocales means locale filtering left zero targets.
	ErrNoValidTargetLocales = fault.New(fault.Validation, "no valid target locales after filtering")
)

// SourceFile is one discovered (or pre-built) translation input.
type SourceFile struct {
	// Path is relative to the locale root, e.g. "content/guide/intro.md".
	Path     string
	Category string
	Kind     Kind
	Content  []byte
}

// CreateBatchOptions filters and shapes a new batch.
type CreateBatchOptions struct {
	SourceLocale string

	// TargetLocales of nil, empty, or ["all"] selects every supported
	// target.
	TargetLocales []string

	// IncludeFiles restricts the batch to these relative paths; nil means
	// all discovered files.
	IncludeFiles []string

	// Categories restricts by content category; nil means all.
	Categories []string

	// Model overrides the builder default when non-empty.
	Model string

	// Files supplies pre-built source files (incremental sessions build
	// reduced JSON documents). When nil the content tree is scanned.
	Files []SourceFile
}

// Builder turns source files into batch manifests.
type Builder struct {
	work    store.Store
	content store.Store
	reg     *locales.Registry
	model   string
	logger  *slog.Logger
}

// NewBuilder wires a builder against the work store (batch artifacts) and
// the content store (source tree rooted at the content directory).
func NewBuilder(work, content store.Store, reg *locales.Registry, model string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{work: work, content: content, reg: reg, model: model, logger: logger}
}

// ScanSource discovers translatable files under <sourceLocale>/ in the
// content tree. The first path element is the category; extension selects
// the kind. Files that are neither markdown nor JSON are skipped.
func (b *Builder) ScanSource(sourceLocale string) ([]SourceFile, error) {
	paths, err := b.content.List(sourceLocale)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, fault.Wrap(fault.NotFound, err, "source locale tree %s", sourceLocale)
		}
		return nil, err
	}

	var files []SourceFile
	for _, rel := range paths {
		kind, ok := kindForPath(rel)
		if !ok {
			continue
		}
		content, err := b.content.Read(path.Join(sourceLocale, rel))
		if err != nil {
			return nil, err
		}
		files = append(files, SourceFile{
			Path:     rel,
			Category: categoryForPath(rel),
			Kind:     kind,
			Content:  content,
		})
	}
	return files, nil
}

func kindForPath(rel string) (Kind, bool) {
	switch strings.ToLower(path.Ext(rel)) {
	case ".md", ".mdx", ".markdown":
		return KindMarkdown, true
	case ".json":
		return KindJSON, true
	default:
		return "", false
	}
}

func categoryForPath(rel string) string {
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	return "content"
}

// BuildRequests constructs one record and one request line per
// (file, target locale) pair. Output order is stable: files in input
// order, locales in registry order within each file.
func (b *Builder) BuildRequests(sessionID, sourceLocale string, targets []string, files []SourceFile, model string) ([]RequestRecord, []RequestLine, error) {
	if model == "" {
		model = b.model
	}

	records := make([]RequestRecord, 0, len(files)*len(targets))
	lines := make([]RequestLine, 0, len(files)*len(targets))
	for _, file := range files {
		for _, target := range targets {
			customID := CorrelationID(sessionID, target, file.Category, file.Path, file.Kind)
			records = append(records, RequestRecord{
				CustomID:     customID,
				Kind:         file.Kind,
				Category:     file.Category,
				Path:         file.Path,
				SourceLocale: sourceLocale,
				TargetLocale: target,
				Folder:       path.Dir(file.Path),
				FileName:     path.Base(file.Path),
				Size:         len(file.Content),
			})
			lines = append(lines, RequestLine{
				CustomID: customID,
				Method:   "POST",
				URL:      ChatCompletionsEndpoint,
				Body: RequestBody{
					Model: model,
					Messages: []ChatMessage{
						{Role: "system", Content: SystemInstruction()},
						{Role: "user", Content: UserInstruction(file.Kind, sourceLocale, target, string(file.Content))},
					},
				},
			})
		}
	}
	return records, lines, nil
}

// CreateBatch resolves option filters, builds all requests, and persists the
// line-delimited request file plus the manifest document. The new manifest
// starts in draft status.
func (b *Builder) CreateBatch(sessionID string, opts CreateBatchOptions) (*Manifest, error) {
	sourceLocale := opts.SourceLocale
	if sourceLocale == "" {
		sourceLocale = b.reg.Source()
	}

	targets := b.reg.Filter(opts.TargetLocales)
	if len(targets) == 0 {
		return nil, fmt.Errorf("creating batch for session %s: %w", sessionID, ErrNoValidTargetLocales)
	}

	files := opts.Files
	if files == nil {
		scanned, err := b.ScanSource(sourceLocale)
		if err != nil {
			return nil, err
		}
		files = scanned
	}
	files = filterFiles(files, opts.IncludeFiles, opts.Categories)
	if len(files) == 0 {
		return nil, fmt.Errorf("creating batch for session %s: %w", sessionID, ErrNoMatchingFiles)
	}

	model := opts.Model
	if model == "" {
		model = b.model
	}

	records, lines, err := b.BuildRequests(sessionID, sourceLocale, targets, files, model)
	if err != nil {
		return nil, err
	}

	batchID := NewBatchID(sourceLocale)
	now := time.Now().UTC()
	m := &Manifest{
		BatchID:       batchID,
		SessionID:     sessionID,
		Categories:    categoriesOf(files),
		SourceLocale:  sourceLocale,
		TargetLocales: targets,
		Model:         model,
		TotalRequests: len(records),
		Files:         records,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := b.work.Write(RequestFilePath(batchID), encodeLines(lines)); err != nil {
		return nil, fmt.Errorf("writing request file for batch %s: %w", batchID, err)
	}
	if err := Save(b.work, m); err != nil {
		return nil, err
	}

	b.logger.Info("batch created",
		"batchId", batchID,
		"sessionId", sessionID,
		"requests", len(records),
		"targets", targets)
	return m, nil
}

func filterFiles(files []SourceFile, include, categories []string) []SourceFile {
	includeSet := sentinelSet(include)
	categorySet := sentinelSet(categories)

	var out []SourceFile
	for _, f := range files {
		if includeSet != nil {
			if _, ok := includeSet[f.Path]; !ok {
				continue
			}
		}
		if categorySet != nil {
			if _, ok := categorySet[f.Category]; !ok {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

// sentinelSet returns nil (meaning "no filter") for nil, empty, or the
// single element "all".
func sentinelSet(values []string) map[string]struct{} {
	if len(values) == 0 || (len(values) == 1 && values[0] == locales.All) {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func categoriesOf(files []SourceFile) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range files {
		if _, ok := seen[f.Category]; ok {
			continue
		}
		seen[f.Category] = struct{}{}
		out = append(out, f.Category)
	}
	return out
}

func encodeLines(lines []RequestLine) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, line := range lines {
		// Encode appends the newline that delimits records.
		_ = enc.Encode(line)
	}
	return buf.Bytes()
}

// DecodeRequestLines parses a line-delimited request file.
func DecodeRequestLines(data []byte) ([]RequestLine, error) {
	var out []RequestLine
	for i, raw := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var line RequestLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("request file line %d: %w", i+1, err)
		}
		out = append(out, line)
	}
	return out, nil
}

// CorrelationID builds the deterministic, human-traceable id linking a
// request to its output line:
//
//	{kind}_{category}_{target}_{hash}_{pathFragment}
//
// The hash is a short digest of (session, target, category, path); the path
// fragment is a sanitized suffix for operator readability. Not reversible.
func CorrelationID(sessionID, targetLocale, category, relPath string, kind Kind) string {
	sum := sha256.Sum256([]byte(sessionID + "|" + targetLocale + "|" + category + "|" + relPath))
	return fmt.Sprintf("%s_%s_%s_%s_%s",
		kind, category, targetLocale, hex.EncodeToString(sum[:4]), pathFragment(relPath))
}

func pathFragment(relPath string) string {
	frag := strings.TrimSuffix(path.Base(relPath), path.Ext(relPath))
	frag = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, frag)
	const maxFragment = 40
	if len(frag) > maxFragment {
		frag = frag[len(frag)-maxFragment:]
	}
	return frag
}

// NewBatchID combines locale, timestamp, and a random suffix so rapid
// repeated calls cannot collide.
func NewBatchID(sourceLocale string) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s_%s_%s",
		sourceLocale,
		time.Now().UTC().Format("20060102T150405"),
		hex.EncodeToString(suffix))
}
