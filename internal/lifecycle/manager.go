// Package lifecycle manages a batch manifest through its provider-side
// life: draft -> submitted -> completed or failed, plus retry-batch
// construction from a prior batch's error file.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/locflow/locflow/internal/fault"
	"github.com/locflow/locflow/internal/manifest"
	"github.com/locflow/locflow/internal/provider"
	"github.com/locflow/locflow/internal/store"
)

// StatusReport is the normalized answer to a status or cancel call.
type StatusReport struct {
	BatchID         string                  `json:"batchId"`
	ProviderBatchID string                  `json:"providerBatchId"`
	Provider        string                  `json:"provider"`
	Status          string                  `json:"status"`
	RequestCounts   *provider.RequestCounts `json:"requestCounts,omitempty"`
	OutputFileID    string                  `json:"outputFileId,omitempty"`
	ErrorFileID     string                  `json:"errorFileId,omitempty"`
}

// ErrorGroup is one deduplicated (code, type) bucket from an error file.
type ErrorGroup struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Manager drives manifests against a provider.
type Manager struct {
	work     store.Store
	provider provider.Client
	logger   *slog.Logger
}

// NewManager wires a lifecycle manager over the work store.
func NewManager(work store.Store, p provider.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{work: work, provider: p, logger: logger}
}

// Submit uploads a draft batch's request file and opens the provider batch
// job, recording the provider correlation block on the manifest.
//
// Submitting a non-draft manifest is permitted but logged as anomalous: it
// may create a duplicate provider job, and callers must not rely on any
// deduplication here.
func (m *Manager) Submit(ctx context.Context, batchID string) (*manifest.Manifest, error) {
	man, err := manifest.Load(m.work, batchID)
	if err != nil {
		return nil, err
	}
	if man.Status != manifest.StatusDraft {
		m.logger.Warn("submitting a batch that is not in draft status; this may create a duplicate provider job",
			"batchId", batchID, "status", man.Status)
	}

	input, err := m.work.Read(manifest.RequestFilePath(batchID))
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, fault.Wrap(fault.NotFound, err, "batch %s has no request file", batchID)
		}
		return nil, err
	}

	fileID, err := m.provider.UploadBatchInput(ctx, batchID+".jsonl", input)
	if err != nil {
		return nil, fmt.Errorf("submitting batch %s: %w", batchID, err)
	}
	job, err := m.provider.CreateBatch(ctx, fileID, manifest.ChatCompletionsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("submitting batch %s: %w", batchID, err)
	}

	man.Status = manifest.StatusSubmitted
	man.UpdatedAt = time.Now().UTC()
	man.Provider = &manifest.ProviderBlock{
		InputFileID:     fileID,
		ProviderBatchID: job.ID,
		Endpoint:        manifest.ChatCompletionsEndpoint,
		Status:          job.Status,
		SubmittedAt:     man.UpdatedAt,
	}
	if err := manifest.Save(m.work, man); err != nil {
		return nil, err
	}

	m.logger.Info("batch submitted",
		"batchId", batchID, "providerBatchId", job.ID, "inputFileId", fileID)
	return man, nil
}

// CheckStatus queries the provider for the batch's current state and keeps
// the manifest's provider block in sync. On terminal provider states the
// manifest status advances to completed or failed; status never moves
// backward.
func (m *Manager) CheckStatus(ctx context.Context, batchID string) (StatusReport, error) {
	man, err := manifest.Load(m.work, batchID)
	if err != nil {
		return StatusReport{}, err
	}
	if man.Provider == nil {
		return StatusReport{}, fault.New(fault.InvalidState, "batch %s has not been submitted", batchID)
	}

	job, err := m.provider.GetBatch(ctx, man.Provider.ProviderBatchID)
	if err != nil {
		return StatusReport{}, err
	}

	man.Provider.Status = job.Status
	if next, terminal := terminalStatus(job.Status); terminal && man.Status.CanAdvanceTo(next) {
		man.Status = next
	}
	man.UpdatedAt = time.Now().UTC()
	if err := manifest.Save(m.work, man); err != nil {
		return StatusReport{}, err
	}

	counts := job.RequestCounts
	return StatusReport{
		BatchID:         batchID,
		ProviderBatchID: job.ID,
		Provider:        m.provider.Name(),
		Status:          job.Status,
		RequestCounts:   &counts,
		OutputFileID:    job.OutputFileID,
		ErrorFileID:     job.ErrorFileID,
	}, nil
}

// Cancel asks the provider to cancel the batch. Providers without a batch
// surface report NotSupported, which is passed through untouched.
func (m *Manager) Cancel(ctx context.Context, batchID string) (StatusReport, error) {
	man, err := manifest.Load(m.work, batchID)
	if err != nil {
		return StatusReport{}, err
	}
	if man.Provider == nil {
		return StatusReport{}, fault.New(fault.InvalidState, "batch %s has not been submitted", batchID)
	}

	job, err := m.provider.CancelBatch(ctx, man.Provider.ProviderBatchID)
	if err != nil {
		return StatusReport{}, err
	}

	man.Provider.Status = job.Status
	if man.Status.CanAdvanceTo(manifest.StatusFailed) {
		man.Status = manifest.StatusFailed
	}
	man.UpdatedAt = time.Now().UTC()
	if err := manifest.Save(m.work, man); err != nil {
		return StatusReport{}, err
	}

	return StatusReport{
		BatchID:         batchID,
		ProviderBatchID: job.ID,
		Provider:        m.provider.Name(),
		Status:          job.Status,
	}, nil
}

// DownloadResults pulls the provider's output (and error) files into the
// batch directory once the provider reports a terminal state. Returns the
// raw output bytes.
func (m *Manager) DownloadResults(ctx context.Context, batchID string) ([]byte, error) {
	man, err := manifest.Load(m.work, batchID)
	if err != nil {
		return nil, err
	}
	if man.Provider == nil {
		return nil, fault.New(fault.InvalidState, "batch %s has not been submitted", batchID)
	}

	job, err := m.provider.GetBatch(ctx, man.Provider.ProviderBatchID)
	if err != nil {
		return nil, err
	}
	if job.OutputFileID == "" {
		return nil, fault.New(fault.InvalidState, "batch %s has no output yet (provider status %s)", batchID, job.Status)
	}

	output, err := m.provider.DownloadFile(ctx, job.OutputFileID)
	if err != nil {
		return nil, err
	}
	if err := m.work.Write(manifest.OutputFilePath(batchID), output); err != nil {
		return nil, err
	}

	if job.ErrorFileID != "" {
		errData, err := m.provider.DownloadFile(ctx, job.ErrorFileID)
		if err != nil {
			return nil, err
		}
		if err := m.work.Write(manifest.ErrorFilePath(batchID), errData); err != nil {
			return nil, err
		}
	}
	return output, nil
}

// errorLine tolerates both error-file shapes seen in the wild: a top-level
// error object, or one nested under response.body.
type errorLine struct {
	CustomID string      `json:"custom_id"`
	Error    *errorBlock `json:"error"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       *struct {
			Error *errorBlock `json:"error"`
		} `json:"body"`
	} `json:"response"`
}

type errorBlock struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (l errorLine) block() *errorBlock {
	if l.Error != nil {
		return l.Error
	}
	if l.Response != nil && l.Response.Body != nil {
		return l.Response.Body.Error
	}
	return nil
}

// CreateRetryBatch builds a fresh draft manifest containing only the
// requests named by the error file, rebuilding their bodies from the
// original request file. Content is taken as stored at original submission
// time; a source file edited since then is retried with the stale content.
// Returns the new manifest and the deduplicated error summary.
func (m *Manager) CreateRetryBatch(ctx context.Context, originalBatchID, errorFileName, model string) (*manifest.Manifest, []ErrorGroup, error) {
	original, err := manifest.Load(m.work, originalBatchID)
	if err != nil {
		return nil, nil, err
	}

	errData, err := m.work.Read(errorFileName)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, nil, fault.Wrap(fault.NotFound, err, "error file %s", errorFileName)
		}
		return nil, nil, err
	}

	failed, groups := parseErrorFile(errData, m.logger)
	if len(failed) == 0 {
		return nil, nil, fault.New(fault.Validation, "error file %s yields no recoverable request ids", errorFileName)
	}

	reqData, err := m.work.Read(manifest.RequestFilePath(originalBatchID))
	if err != nil {
		return nil, nil, err
	}
	originalLines, err := manifest.DecodeRequestLines(reqData)
	if err != nil {
		return nil, nil, err
	}

	if model == "" {
		model = original.Model
	}

	var records []manifest.RequestRecord
	var lines []manifest.RequestLine
	for _, line := range originalLines {
		if _, ok := failed[line.CustomID]; !ok {
			continue
		}
		rec, ok := original.Record(line.CustomID)
		if !ok {
			m.logger.Warn("error file names an id absent from the original manifest, skipping",
				"customId", line.CustomID, "batchId", originalBatchID)
			continue
		}
		line.Body.Model = model
		records = append(records, *rec)
		lines = append(lines, line)
	}
	if len(records) == 0 {
		return nil, nil, fault.New(fault.Validation, "error file %s matches no requests in batch %s", errorFileName, originalBatchID)
	}

	batchID := manifest.NewBatchID(original.SourceLocale)
	now := time.Now().UTC()
	retry := &manifest.Manifest{
		BatchID:       batchID,
		SessionID:     original.SessionID,
		Categories:    categoriesOf(records),
		SourceLocale:  original.SourceLocale,
		TargetLocales: localesOf(records),
		Model:         model,
		TotalRequests: len(records),
		Files:         records,
		Status:        manifest.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.work.Write(manifest.RequestFilePath(batchID), encodeLines(lines)); err != nil {
		return nil, nil, err
	}
	if err := manifest.Save(m.work, retry); err != nil {
		return nil, nil, err
	}

	m.logger.Info("retry batch created",
		"batchId", batchID, "originalBatchId", originalBatchID, "requests", len(records))
	return retry, groups, nil
}

// parseErrorFile collects failed correlation ids and the (code, type)
// summary. Unparsable lines are logged and skipped.
func parseErrorFile(data []byte, logger *slog.Logger) (map[string]struct{}, []ErrorGroup) {
	failed := make(map[string]struct{})
	buckets := make(map[string]*ErrorGroup)

	for i, raw := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var line errorLine
		if err := json.Unmarshal(raw, &line); err != nil {
			logger.Warn("skipping unparsable error file line", "line", i+1, "error", err)
			continue
		}
		if line.CustomID == "" {
			logger.Warn("skipping error file line without custom_id", "line", i+1)
			continue
		}
		failed[line.CustomID] = struct{}{}

		block := line.block()
		if block == nil {
			block = &errorBlock{Type: "unknown", Message: "no error payload"}
		}
		key := block.Code + "|" + block.Type
		if g, ok := buckets[key]; ok {
			g.Count++
		} else {
			buckets[key] = &ErrorGroup{Code: block.Code, Type: block.Type, Message: block.Message, Count: 1}
		}
	}

	groups := make([]ErrorGroup, 0, len(buckets))
	for _, g := range buckets {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Code+groups[i].Type < groups[j].Code+groups[j].Type
	})
	return failed, groups
}

func categoriesOf(records []manifest.RequestRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	return out
}

func localesOf(records []manifest.RequestRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.TargetLocale]; ok {
			continue
		}
		seen[r.TargetLocale] = struct{}{}
		out = append(out, r.TargetLocale)
	}
	return out
}

func encodeLines(lines []manifest.RequestLine) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, line := range lines {
		_ = enc.Encode(line)
	}
	return buf.Bytes()
}

// terminalStatus maps provider batch states onto manifest statuses.
func terminalStatus(providerStatus string) (manifest.Status, bool) {
	switch providerStatus {
	case "completed":
		return manifest.StatusCompleted, true
	case "failed", "expired", "cancelled":
		return manifest.StatusFailed, true
	default:
		return "", false
	}
}
