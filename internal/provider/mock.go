package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/locflow/locflow/internal/fault"
)

// Mock is a scriptable in-memory provider for tests and dry runs. It
// accepts uploads, hands out sequential batch ids, and answers direct
// completions with a canned transform.
type Mock struct {
	mu sync.Mutex

	// CompleteFunc overrides direct completions when set.
	CompleteFunc func(ctx context.Context, req Request) (string, error)

	// Batches holds provider-side batch state keyed by provider batch id,
	// mutable from tests to simulate progress.
	Batches map[string]BatchJob

	// Uploads records uploaded file contents keyed by file id.
	Uploads map[string][]byte

	// FileContents serves DownloadFile, keyed by file id.
	FileContents map[string][]byte

	uploadSeq int
	batchSeq  int
}

// NewMock returns an empty scriptable provider.
func NewMock() *Mock {
	return &Mock{
		Batches:      make(map[string]BatchJob),
		Uploads:      make(map[string][]byte),
		FileContents: make(map[string][]byte),
	}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Complete(ctx context.Context, req Request) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "translated: " + req.User, nil
}

func (m *Mock) UploadBatchInput(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadSeq++
	id := fmt.Sprintf("file-%d", m.uploadSeq)
	m.Uploads[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *Mock) CreateBatch(ctx context.Context, inputFileID, endpoint string) (BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Uploads[inputFileID]; !ok {
		return BatchJob{}, fault.New(fault.Provider, "unknown input file %s", inputFileID)
	}
	m.batchSeq++
	job := BatchJob{ID: fmt.Sprintf("batch-%d", m.batchSeq), Status: "validating"}
	m.Batches[job.ID] = job
	return job, nil
}

func (m *Mock) GetBatch(ctx context.Context, id string) (BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Batches[id]
	if !ok {
		return BatchJob{}, fault.New(fault.Provider, "unknown batch %s", id)
	}
	return job, nil
}

func (m *Mock) CancelBatch(ctx context.Context, id string) (BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Batches[id]
	if !ok {
		return BatchJob{}, fault.New(fault.Provider, "unknown batch %s", id)
	}
	job.Status = "cancelled"
	m.Batches[id] = job
	return job, nil
}

func (m *Mock) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.FileContents[fileID]
	if !ok {
		return nil, fault.New(fault.Provider, "unknown file %s", fileID)
	}
	return append([]byte(nil), data...), nil
}

// SetBatchStatus scripts a provider-side state change.
func (m *Mock) SetBatchStatus(id, status, outputFileID, errorFileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.Batches[id]
	job.ID = id
	job.Status = status
	job.OutputFileID = outputFileID
	job.ErrorFileID = errorFileID
	m.Batches[id] = job
}
