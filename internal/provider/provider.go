// Package provider defines the LLM provider port and its adapters. The
// engine talks to providers through Client only; batch-capable providers
// implement the whole surface, the rest return NotSupported on the batch
// paths.
package provider

import (
	"context"

	"github.com/locflow/locflow/internal/config"
	"github.com/locflow/locflow/internal/fault"
)

// Request is one direct chat-completion call.
type Request struct {
	Model  string
	System string
	User   string

	// JSONMode asks the provider for structured output shaped as
	// {"translation": <value>} where the adapter supports it.
	JSONMode bool
}

// RequestCounts mirrors a provider batch job's progress counters.
type RequestCounts struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// BatchJob is the normalized view of a provider batch.
type BatchJob struct {
	ID            string
	Status        string
	OutputFileID  string
	ErrorFileID   string
	RequestCounts RequestCounts
}

// Client is the provider port.
type Client interface {
	// Name identifies the adapter, e.g. "openai".
	Name() string

	// Complete performs one synchronous chat completion and returns the
	// assistant text.
	Complete(ctx context.Context, req Request) (string, error)

	// UploadBatchInput uploads a line-delimited request file and returns
	// the provider file id.
	UploadBatchInput(ctx context.Context, name string, data []byte) (string, error)

	// CreateBatch opens a batch job over a previously uploaded file.
	CreateBatch(ctx context.Context, inputFileID, endpoint string) (BatchJob, error)

	// GetBatch fetches current batch state.
	GetBatch(ctx context.Context, id string) (BatchJob, error)

	// CancelBatch cancels a running batch where the provider supports it.
	CancelBatch(ctx context.Context, id string) (BatchJob, error)

	// DownloadFile fetches the contents of a provider-hosted file
	// (batch output or error file).
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// New constructs the adapter selected by cfg.
func New(cfg config.ProviderConfig) (Client, error) {
	switch cfg.Type {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fault.New(fault.Validation, "openai: api key not configured")
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	case "openrouter":
		if cfg.APIKey == "" {
			return nil, fault.New(fault.Validation, "openrouter: api key not configured")
		}
		return NewOpenRouter(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fault.New(fault.Validation, "unknown provider type %q", cfg.Type)
	}
}
