package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/locflow/locflow/internal/config"
	"github.com/locflow/locflow/internal/lifecycle"
	"github.com/locflow/locflow/internal/locales"
	"github.com/locflow/locflow/internal/manifest"
	"github.com/locflow/locflow/internal/pipeline"
	"github.com/locflow/locflow/internal/provider"
	"github.com/locflow/locflow/internal/store"
)

// newProviderClient is swapped out by tests.
var newProviderClient = provider.New

// app wires the engine's components from one loaded configuration.
type app struct {
	cfg      *config.Config
	work     store.Store
	content  store.Store
	registry *locales.Registry
	builder  *manifest.Builder
	sessions *pipeline.SessionStore
	client   provider.Client
	logger   *slog.Logger
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	reg, err := locales.NewRegistry(cfg.SourceLocale, cfg.TargetLocales)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		work:     store.NewDir(cfg.WorkDir),
		content:  store.NewDir(cfg.ContentDir),
		registry: reg,
		client:   &lazyClient{cfg: cfg.Provider},
		logger:   slog.Default(),
	}
	a.builder = manifest.NewBuilder(a.work, a.content, reg, cfg.Model, a.logger)
	a.sessions = pipeline.NewSessionStore(a.work)
	return a, nil
}

func (a *app) lifecycle() *lifecycle.Manager {
	return lifecycle.NewManager(a.work, a.client, a.logger)
}

func (a *app) machine() *pipeline.Machine {
	return pipeline.NewMachine(a.work, a.content, a.builder, a.lifecycle(), a.sessions, a.logger)
}

// lazyClient defers provider construction to the first provider call, so
// commands that only touch local state work without credentials.
type lazyClient struct {
	cfg config.ProviderConfig

	mu     sync.Mutex
	client provider.Client
	err    error
}

func (l *lazyClient) resolve() (provider.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil && l.err == nil {
		client, err := newProviderClient(l.cfg)
		if err != nil {
			l.err = fmt.Errorf("configuring provider: %w", err)
		} else {
			l.client = client
		}
	}
	return l.client, l.err
}

func (l *lazyClient) Name() string {
	if client, err := l.resolve(); err == nil {
		return client.Name()
	}
	return l.cfg.Type
}

func (l *lazyClient) Complete(ctx context.Context, req provider.Request) (string, error) {
	client, err := l.resolve()
	if err != nil {
		return "", err
	}
	return client.Complete(ctx, req)
}

func (l *lazyClient) UploadBatchInput(ctx context.Context, name string, data []byte) (string, error) {
	client, err := l.resolve()
	if err != nil {
		return "", err
	}
	return client.UploadBatchInput(ctx, name, data)
}

func (l *lazyClient) CreateBatch(ctx context.Context, inputFileID, endpoint string) (provider.BatchJob, error) {
	client, err := l.resolve()
	if err != nil {
		return provider.BatchJob{}, err
	}
	return client.CreateBatch(ctx, inputFileID, endpoint)
}

func (l *lazyClient) GetBatch(ctx context.Context, id string) (provider.BatchJob, error) {
	client, err := l.resolve()
	if err != nil {
		return provider.BatchJob{}, err
	}
	return client.GetBatch(ctx, id)
}

func (l *lazyClient) CancelBatch(ctx context.Context, id string) (provider.BatchJob, error) {
	client, err := l.resolve()
	if err != nil {
		return provider.BatchJob{}, err
	}
	return client.CancelBatch(ctx, id)
}

func (l *lazyClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	client, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return client.DownloadFile(ctx, fileID)
}
