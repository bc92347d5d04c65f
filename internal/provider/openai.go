package provider

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/locflow/locflow/internal/fault"
)

// OpenAI is the batch-capable adapter built on the official SDK.
type OpenAI struct {
	client openai.Client

	// sleep is swapped out in tests so retry backoff doesn't wall-block.
	sleep func(time.Duration)
}

// NewOpenAI builds the adapter. baseURL is optional and mainly used to
// point at a test server.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), sleep: time.Sleep}
}

func (o *OpenAI) Name() string { return "openai" }

// Complete retries rate-limit and server errors with a fixed backoff
// schedule before giving up.
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	const maxAttempts = 3
	rateLimitWait := []time.Duration{65 * time.Second, 100 * time.Second}
	serverErrWait := []time.Duration{5 * time.Second, 30 * time.Second}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts-1 {
				if isRateLimitError(err) {
					o.sleep(rateLimitWait[attempt])
					continue
				}
				if isServerError(err) {
					o.sleep(serverErrWait[attempt])
					continue
				}
			}
			return "", fault.Wrap(fault.Provider, err, "openai completion")
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", fault.New(fault.Provider, "openai returned an empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fault.Wrap(fault.Provider, lastErr, "openai completion failed after %d attempts", maxAttempts)
}

func (o *OpenAI) UploadBatchInput(ctx context.Context, name string, data []byte) (string, error) {
	file, err := o.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(data), name, "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", fault.Wrap(fault.Provider, err, "uploading batch input %s", name)
	}
	return file.ID, nil
}

func (o *OpenAI) CreateBatch(ctx context.Context, inputFileID, endpoint string) (BatchJob, error) {
	batch, err := o.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      inputFileID,
		Endpoint:         openai.BatchNewParamsEndpoint(endpoint),
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
	})
	if err != nil {
		return BatchJob{}, fault.Wrap(fault.Provider, err, "creating batch for file %s", inputFileID)
	}
	return normalizeBatch(batch), nil
}

func (o *OpenAI) GetBatch(ctx context.Context, id string) (BatchJob, error) {
	batch, err := o.client.Batches.Get(ctx, id)
	if err != nil {
		return BatchJob{}, fault.Wrap(fault.Provider, err, "fetching batch %s", id)
	}
	return normalizeBatch(batch), nil
}

func (o *OpenAI) CancelBatch(ctx context.Context, id string) (BatchJob, error) {
	batch, err := o.client.Batches.Cancel(ctx, id)
	if err != nil {
		return BatchJob{}, fault.Wrap(fault.Provider, err, "cancelling batch %s", id)
	}
	return normalizeBatch(batch), nil
}

func (o *OpenAI) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := o.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, fault.Wrap(fault.Provider, err, "downloading file %s", fileID)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Provider, err, "reading file %s", fileID)
	}
	return data, nil
}

func normalizeBatch(batch *openai.Batch) BatchJob {
	return BatchJob{
		ID:           batch.ID,
		Status:       string(batch.Status),
		OutputFileID: batch.OutputFileID,
		ErrorFileID:  batch.ErrorFileID,
		RequestCounts: RequestCounts{
			Total:     batch.RequestCounts.Total,
			Completed: batch.RequestCounts.Completed,
			Failed:    batch.RequestCounts.Failed,
		},
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "500") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "server_error")
}
