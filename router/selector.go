// Package router picks which endpoint serves a request and retries the
// remaining candidates when the chosen one fails.
package router

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/config"
)

// Strategy names an endpoint selection policy.
type Strategy string

const (
	// StrategyPriority always picks the highest-priority usable endpoint.
	StrategyPriority Strategy = "priority"
	// StrategyRoundRobin rotates across a model's endpoints, one step per
	// selection.
	StrategyRoundRobin Strategy = "round_robin"
)

// Selector resolves (model, mode, override) to a concrete candidate.
// Round-robin cursors are per model and survive across selections.
type Selector struct {
	reg      *config.Registry
	strategy Strategy
	logger   *zap.Logger

	mu      sync.Mutex
	cursors map[string]int
}

// NewSelector creates a selector. An empty strategy means priority.
func NewSelector(reg *config.Registry, strategy Strategy, logger *zap.Logger) *Selector {
	if strategy == "" {
		strategy = StrategyPriority
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		reg:      reg,
		strategy: strategy,
		logger:   logger.With(zap.String("component", "selector")),
		cursors:  make(map[string]int),
	}
}

// Registry exposes the backing registry for failover lookups.
func (s *Selector) Registry() *config.Registry { return s.reg }

// Select picks the candidate for one call. A non-empty override names a
// specific endpoint (display or provider name) and bypasses the strategy;
// the override also signals the caller to skip failover.
func (s *Selector) Select(model, mode, override string) *config.Candidate {
	if override != "" {
		cand := s.reg.ByName(model, override, mode)
		if cand != nil {
			s.logger.Debug("endpoint override",
				zap.String("model", model),
				zap.String("endpoint", override),
				zap.String("provider", cand.Provider.Name))
		}
		return cand
	}

	switch s.strategy {
	case StrategyRoundRobin:
		count := s.reg.EndpointCount(model)
		if count == 0 {
			return nil
		}
		s.mu.Lock()
		index := s.cursors[model]
		s.cursors[model] = (index + 1) % count
		s.mu.Unlock()
		cand := s.reg.ByIndex(model, index, mode)
		if cand != nil {
			s.logger.Debug("round-robin selection",
				zap.String("model", model),
				zap.Int("index", index),
				zap.String("provider", cand.Provider.Name))
		}
		return cand
	default:
		return s.reg.Best(model, mode)
	}
}
