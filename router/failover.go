package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/adapter"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/types"
)

// Runner executes one candidate call end to end. The adapter executor is
// the production implementation; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cand *config.Candidate, in *adapter.Input) *types.APIResponse
}

// Failover drives one logical call across endpoint candidates: the
// selected endpoint first, then every remaining provider in priority
// order until one succeeds. An explicit endpoint override disables
// failover entirely; the caller asked for that endpoint and gets its
// answer, good or bad.
type Failover struct {
	selector *Selector
	runner   Runner
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewFailover wires the orchestrator. The collector may be nil.
func NewFailover(selector *Selector, runner Runner, collector *metrics.Collector, logger *zap.Logger) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failover{
		selector: selector,
		runner:   runner,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "failover")),
	}
}

// Execute runs one call with failover. in.Mode carries the requested
// generation mode; the served mode may differ when an endpoint only
// declares the fallback mode.
func (f *Failover) Execute(ctx context.Context, model, override string, in *adapter.Input) *types.APIResponse {
	mode := in.Mode
	primary := f.selector.Select(model, mode, override)
	if primary == nil {
		return types.FailErr(types.NewError(types.ErrNoEndpoint,
			fmt.Sprintf("No endpoint configured for model %q in mode %q", model, mode)))
	}
	if primary.Fallback(mode) {
		f.logger.Warn("requested mode unavailable, degrading",
			zap.String("model", model),
			zap.String("requested_mode", mode),
			zap.String("served_mode", primary.ModeName),
			zap.String("provider", primary.Provider.Name))
	}

	resp := f.runner.Run(ctx, primary, in)
	if resp.Success {
		return resp
	}
	if override != "" {
		f.logger.Warn("override endpoint failed, failover disabled",
			zap.String("model", model),
			zap.String("endpoint", override),
			zap.String("error", resp.ErrorMessage))
		return resp
	}

	lastMessage := resp.ErrorMessage
	alternatives := f.selector.Registry().Alternatives(model, mode, primary.Provider.Name)
	for _, alt := range alternatives {
		f.metrics.IncFailover(model)
		f.logger.Warn("failing over to alternative endpoint",
			zap.String("model", model),
			zap.String("failed_provider", primary.Provider.Name),
			zap.String("next_provider", alt.Provider.Name),
			zap.String("error", lastMessage))
		resp = f.runner.Run(ctx, alt, in)
		if resp.Success {
			return resp
		}
		lastMessage = resp.ErrorMessage
	}

	f.logger.Error("all providers failed",
		zap.String("model", model),
		zap.String("mode", mode),
		zap.Int("alternatives_tried", len(alternatives)),
		zap.String("last_error", lastMessage))
	return types.FailErr(types.NewError(types.ErrAllProvidersFailed,
		"All providers failed: "+lastMessage))
}
