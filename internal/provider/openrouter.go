package provider

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/locflow/locflow/internal/fault"
)

const openRouterDefaultBase = "https://openrouter.ai"

// OpenRouter performs direct completions over the OpenRouter chat API. It
// has no batch surface, so every batch operation reports NotSupported and
// batch work must be configured against a batch-capable provider.
type OpenRouter struct {
	apiKey  string
	baseURL string
	http    *resty.Client
}

func NewOpenRouter(apiKey, baseURL string) *OpenRouter {
	if baseURL == "" {
		baseURL = openRouterDefaultBase
	}
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.New().SetTimeout(60 * time.Second),
	}
}

func (c *OpenRouter) Name() string { return "openrouter" }

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenRouter) Complete(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
	}
	if req.JSONMode {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "translation",
				"strict": true,
				"schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"translation": map[string]any{"type": "string"},
					},
					"required":             []string{"translation"},
					"additionalProperties": false,
				},
			},
		}
	}

	var parsed openRouterResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&parsed).
		Post(c.baseURL + "/api/v1/chat/completions")
	if err != nil {
		return "", fault.Wrap(fault.Provider, err, "openrouter completion")
	}
	if resp.IsError() {
		return "", fault.New(fault.Provider, "openrouter completion: %s; body: %s", resp.Status(), resp.String())
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fault.New(fault.Provider, "openrouter returned an empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenRouter) UploadBatchInput(ctx context.Context, name string, data []byte) (string, error) {
	return "", c.unsupported("batch file upload")
}

func (c *OpenRouter) CreateBatch(ctx context.Context, inputFileID, endpoint string) (BatchJob, error) {
	return BatchJob{}, c.unsupported("batch creation")
}

func (c *OpenRouter) GetBatch(ctx context.Context, id string) (BatchJob, error) {
	return BatchJob{}, c.unsupported("batch status")
}

func (c *OpenRouter) CancelBatch(ctx context.Context, id string) (BatchJob, error) {
	return BatchJob{}, c.unsupported("batch cancellation")
}

func (c *OpenRouter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, c.unsupported("file download")
}

func (c *OpenRouter) unsupported(op string) error {
	return fault.New(fault.NotSupported, "openrouter does not support %s", op)
}
