// Package manifest builds batch manifests: one request record per
// (source file, target locale) pair, serialized as a line-delimited request
// file plus a manifest document describing the batch's composition and
// lifecycle status.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/locflow/locflow/internal/store"
)

// Kind tags the content type of a request.
type Kind string

const (
	KindMarkdown Kind = "markdown"
	KindJSON     Kind = "json"
)

// Status is the manifest lifecycle state. It only moves forward; a failed
// batch is superseded by a retry manifest, never rewound.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// rank orders statuses for the forward-only transition check.
func (s Status) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusSubmitted:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next goes forward.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.rank() > s.rank()
}

// RequestRecord is one planned translation unit. Immutable once written
// into a manifest.
type RequestRecord struct {
	CustomID     string `json:"customId"`
	Kind         Kind   `json:"kind"`
	Category     string `json:"category"`
	Path         string `json:"path"`
	SourceLocale string `json:"sourceLocale"`
	TargetLocale string `json:"targetLocale"`
	Folder       string `json:"folder,omitempty"`
	FileName     string `json:"fileName"`
	Size         int    `json:"size"`
}

// ProviderBlock correlates a manifest with its provider-side batch job.
type ProviderBlock struct {
	InputFileID     string    `json:"inputFileId"`
	ProviderBatchID string    `json:"providerBatchId"`
	Endpoint        string    `json:"endpoint"`
	Status          string    `json:"status"`
	SubmittedAt     time.Time `json:"submissionTimestamp"`
}

// Manifest describes one submitted-or-pending unit of batch work.
type Manifest struct {
	BatchID       string          `json:"batchId"`
	SessionID     string          `json:"sessionId"`
	Categories    []string        `json:"categories"`
	SourceLocale  string          `json:"sourceLocale"`
	TargetLocales []string        `json:"targetLocales"`
	Model         string          `json:"model"`
	TotalRequests int             `json:"totalRequests"`
	Files         []RequestRecord `json:"files"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Provider      *ProviderBlock  `json:"provider,omitempty"`
}

// Record looks up a request record by correlation id.
func (m *Manifest) Record(customID string) (*RequestRecord, bool) {
	for i := range m.Files {
		if m.Files[i].CustomID == customID {
			return &m.Files[i], true
		}
	}
	return nil, false
}

// ChatMessage is one message of a provider request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestBody is the provider-call payload carried by a request line.
type RequestBody struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// RequestLine is one line of the line-delimited request file.
type RequestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

// Artifact paths under the work store, all keyed by batch id.

func ManifestPath(batchID string) string {
	return fmt.Sprintf("batches/%s/manifest.json", batchID)
}

func RequestFilePath(batchID string) string {
	return fmt.Sprintf("batches/%s/requests.jsonl", batchID)
}

func OutputFilePath(batchID string) string {
	return fmt.Sprintf("batches/%s/output.jsonl", batchID)
}

func ErrorFilePath(batchID string) string {
	return fmt.Sprintf("batches/%s/errors.jsonl", batchID)
}

func BatchDir(batchID string) string {
	return fmt.Sprintf("batches/%s", batchID)
}

// Load reads a manifest document from the work store.
func Load(st store.Store, batchID string) (*Manifest, error) {
	data, err := st.Read(ManifestPath(batchID))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest for batch %s: %w", batchID, err)
	}
	return &m, nil
}

// Save writes a manifest document to the work store.
func Save(st store.Store, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest %s: %w", m.BatchID, err)
	}
	return st.Write(ManifestPath(m.BatchID), data)
}
