// Package imageflow provides a top-level convenience entry point for the
// image generation pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/imageflow"
//
//	p, err := imageflow.New(configYAML)
//	result, err := p.Generate(ctx, &batch.Request{
//		Model:      "nano-banana",
//		Prompt:     "a watercolor lighthouse at dusk",
//		BatchCount: 4,
//	})
//
// The pipeline is config-driven: providers, endpoints, and per-mode
// request templates come from YAML, so adding a provider never requires
// code. Use the subpackages directly when you need finer control over
// selection, execution, or batching.
package imageflow

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/account"
	"github.com/BaSui01/imageflow/adapter"
	"github.com/BaSui01/imageflow/batch"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/router"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/upload"
)

// Pipeline bundles the full request path: endpoint selection, failover,
// retrying execution, and batch fan-out.
type Pipeline struct {
	registry     *config.Registry
	orchestrator *batch.Orchestrator
}

type options struct {
	logger    *zap.Logger
	strategy  router.Strategy
	collector *metrics.Collector
	creds     account.CredentialProvider
	cache     upload.ContentCache
	execCfg   adapter.ExecutorConfig
}

// Option configures the pipeline created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStrategy sets the endpoint selection strategy. Defaults to priority.
func WithStrategy(s router.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithMetrics registers pipeline metrics against reg under the given
// namespace. Pass prometheus.DefaultRegisterer in production.
func WithMetrics(namespace string, reg prometheus.Registerer) Option {
	return func(o *options) { o.collector = metrics.NewCollector(namespace, reg) }
}

// WithCredentials supplies the token source for account-auth endpoints.
func WithCredentials(creds account.CredentialProvider) Option {
	return func(o *options) { o.creds = creds }
}

// WithContentCache lets Gemini-dialect endpoints reference input images
// by uploaded URI instead of inlining them. The cache is wrapped with
// per-content locking so concurrent batch items upload each image once.
func WithContentCache(cache upload.ContentCache) Option {
	return func(o *options) { o.cache = upload.NewLockedCache(cache, 0) }
}

// WithExecutorConfig overrides the retry, polling, and download tuning.
func WithExecutorConfig(cfg adapter.ExecutorConfig) Option {
	return func(o *options) { o.execCfg = cfg }
}

// New parses the YAML config and wires the full pipeline.
func New(configYAML []byte, opts ...Option) (*Pipeline, error) {
	o := &options{execCfg: adapter.DefaultExecutorConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	registry, err := config.Parse(configYAML)
	if err != nil {
		return nil, err
	}

	executor := adapter.NewExecutor(o.execCfg, adapter.Options{
		Credentials: o.creds,
		Cache:       o.cache,
		Logger:      o.logger,
	}, o.collector, o.logger)
	selector := router.NewSelector(registry, o.strategy, o.logger)
	failover := router.NewFailover(selector, executor, o.collector, o.logger)

	return &Pipeline{
		registry:     registry,
		orchestrator: batch.NewOrchestrator(failover, o.collector, o.logger),
	}, nil
}

// Generate runs one batched generation request.
func (p *Pipeline) Generate(ctx context.Context, req *batch.Request) (*types.BatchResult, error) {
	return p.orchestrator.Generate(ctx, req)
}

// Registry exposes the parsed provider/model configuration.
func (p *Pipeline) Registry() *config.Registry { return p.registry }

// Models returns the configured model names.
func (p *Pipeline) Models() []string { return p.registry.Models() }
