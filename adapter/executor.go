package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/pathexpr"
	"github.com/BaSui01/imageflow/retry"
	"github.com/BaSui01/imageflow/types"
)

// ExecutorConfig tunes the request/poll/download cycle.
type ExecutorConfig struct {
	// Timeout bounds each HTTP attempt; retries and polling have their
	// own independent budgets.
	Timeout            time.Duration
	PollRequestTimeout time.Duration
	DownloadTimeout    time.Duration
	Policy             *retry.Policy
	PollInterval       time.Duration
	PollTimeout        time.Duration
	DownloadRetries    int
	DownloadDelay      time.Duration
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout:            120 * time.Second,
		PollRequestTimeout: 30 * time.Second,
		DownloadTimeout:    120 * time.Second,
		Policy:             retry.DefaultPolicy(),
		PollInterval:       2 * time.Second,
		PollTimeout:        600 * time.Second,
		DownloadRetries:    3,
		DownloadDelay:      2 * time.Second,
	}
}

// Executor performs one provider call end to end: bounded retry with
// exponential backoff, async-task polling, and soft-failing downloads of
// result URLs. It is synchronous per call; the batch orchestrator runs it
// off its own scheduling goroutine.
type Executor struct {
	cfg      ExecutorConfig
	opts     Options
	client   *http.Client
	pollC    *http.Client
	dlC      *http.Client
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   trace.Tracer
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewExecutor creates an executor. The collector may be nil.
func NewExecutor(cfg ExecutorConfig, opts Options, collector *metrics.Collector, logger *zap.Logger) *Executor {
	def := DefaultExecutorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollRequestTimeout <= 0 {
		cfg.PollRequestTimeout = def.PollRequestTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.Policy == nil {
		cfg.Policy = retry.DefaultPolicy()
	}
	cfg.Policy.Normalize()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.DownloadRetries <= 0 {
		cfg.DownloadRetries = def.DownloadRetries
	}
	if cfg.DownloadDelay <= 0 {
		cfg.DownloadDelay = def.DownloadDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Executor{
		cfg:      cfg,
		opts:     opts,
		client:   &http.Client{Timeout: cfg.Timeout},
		pollC:    &http.Client{Timeout: cfg.PollRequestTimeout},
		dlC:      &http.Client{Timeout: cfg.DownloadTimeout},
		metrics:  collector,
		logger:   logger.With(zap.String("component", "executor")),
		tracer:   otel.Tracer("imageflow/adapter"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run executes one candidate call. Failures never surface as Go errors;
// they degrade into a failed APIResponse so failover and batch layers can
// aggregate them.
func (e *Executor) Run(ctx context.Context, cand *config.Candidate, in *Input) *types.APIResponse {
	dialect, err := New(cand, e.opts)
	if err != nil {
		return types.FailErr(err)
	}
	req, err := dialect.Build(ctx, in)
	if err != nil {
		return types.FailErr(err)
	}

	ctx, span := e.tracer.Start(ctx, "provider.request", trace.WithAttributes(
		attribute.String("provider", cand.Provider.Name),
		attribute.String("model", cand.Endpoint.ModelName),
		attribute.String("mode", cand.ModeName),
	))
	defer span.End()

	start := time.Now()
	result := e.attemptLoop(ctx, cand, dialect, req)

	if result.Success && result.Status != types.StatusPending {
		if len(result.ImageURLs) > 0 && len(result.Images) == 0 {
			e.downloadAll(ctx, result)
		}
		e.metrics.AddImages(cand.Provider.Name, len(result.Images))
	}
	status := "success"
	if !result.Success {
		status = "failure"
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	e.metrics.ObserveRequest(cand.Provider.Name, cand.Endpoint.ModelName, status, time.Since(start))
	return result
}

func (e *Executor) attemptLoop(ctx context.Context, cand *config.Candidate, dialect Dialect, req *Request) *types.APIResponse {
	provider := cand.Provider.Name
	logger := e.logger.With(
		zap.String("provider", provider),
		zap.String("url", req.URL),
	)
	policy := e.cfg.Policy

	var lastErr *types.Error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			logger.Warn("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.String("reason", lastErr.Message))
			e.metrics.IncRetry(provider, string(lastErr.Code))
			if err := sleepCtx(ctx, delay); err != nil {
				return types.FailErr(types.NewError(types.ErrTransport, "retry cancelled").
					WithProvider(provider).WithCause(err))
			}
		}
		if err := e.waitLimiter(ctx, cand.Provider); err != nil {
			return types.FailErr(types.NewError(types.ErrTransport, "rate limit wait cancelled").
				WithProvider(provider).WithCause(err))
		}

		status, body, err := e.do(ctx, req)
		switch {
		case err != nil:
			lastErr = types.NewError(types.ErrTransport, err.Error()).
				WithProvider(provider).WithRetryable(true)
		case types.RetryableStatus(status):
			lastErr = types.NewError(types.ErrRetryableHTTP,
				fmt.Sprintf("HTTP %d: %s", status, snippet(body, 200))).
				WithProvider(provider).WithHTTPStatus(status).WithRetryable(true)
		case status >= 300:
			logger.Error("terminal provider error",
				zap.Int("status", status),
				zap.String("body", snippet(body, 200)))
			return types.FailErr(types.NewError(types.ErrTerminalHTTP,
				fmt.Sprintf("HTTP %d: %s", status, snippet(body, 200))).
				WithProvider(provider).WithHTTPStatus(status))
		default:
			parsed := dialect.Parse(body)
			if parsed.TaskID != "" && parsed.Status == types.StatusPending {
				logger.Info("async task submitted, polling",
					zap.String("task_id", parsed.TaskID))
				return e.poll(ctx, cand, parsed.TaskID)
			}
			return parsed
		}
	}

	logger.Error("retries exhausted", zap.String("reason", lastErr.Message))
	return types.FailErr(lastErr)
}

// do sends the request once, re-encoding the body so retries never reuse
// a consumed reader.
func (e *Executor) do(ctx context.Context, req *Request) (int, []byte, error) {
	body, contentType, err := req.Encode()
	if err != nil {
		return 0, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// poll watches an async task until it resolves, fails, or the polling
// window closes.
func (e *Executor) poll(ctx context.Context, cand *config.Candidate, taskID string) *types.APIResponse {
	provider := cand.Provider.Name
	pcfg := normalizePolling(cand.Mode.Polling)
	pollURL := strings.TrimRight(cand.Provider.BaseURL, "/") +
		strings.ReplaceAll(pcfg.EndpointTemplate, "{task_id}", taskID)

	statusExpr, err := pathexpr.Compile(pcfg.StatusPath)
	if err != nil {
		return types.FailErr(types.NewError(types.ErrInvalidConfig,
			"bad polling status path").WithProvider(provider).WithCause(err))
	}
	responsePath := cand.Mode.ResponsePath
	if responsePath == "" {
		responsePath = "data.data.data[*].url"
	}
	success := lowerSet(pcfg.SuccessValues)
	failure := lowerSet(pcfg.FailureValues)

	header, err := authHeaderFor(cand.Endpoint, cand.Provider, e.opts.Credentials)
	if err != nil {
		return types.FailErr(err)
	}

	logger := e.logger.With(zap.String("provider", provider), zap.String("task_id", taskID))
	start := time.Now()
	defer func() { e.metrics.ObservePoll(provider, time.Since(start)) }()

	for time.Since(start) < e.cfg.PollTimeout {
		if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
			return types.FailErr(types.NewError(types.ErrTransport, "polling cancelled").
				WithProvider(provider).WithCause(err))
		}

		doc, ok := e.pollOnce(ctx, pollURL, header, logger)
		if !ok {
			continue
		}
		statusVal, found := statusExpr.First(doc)
		if !found {
			continue
		}
		statusStr := strings.ToLower(fmt.Sprint(statusVal))
		logger.Debug("poll status", zap.String("status", statusStr))

		if success[statusStr] {
			urls, blobs := extractImages(doc, responsePath)
			if len(urls) == 0 && len(blobs) == 0 {
				return &types.APIResponse{
					Success:      false,
					ErrorMessage: "No images in completed task",
					Raw:          doc,
					TaskID:       taskID,
					Status:       types.StatusFailed,
				}
			}
			return &types.APIResponse{
				Success:   true,
				ImageURLs: urls,
				Images:    blobs,
				Raw:       doc,
				TaskID:    taskID,
				Status:    types.StatusSucceeded,
			}
		}
		if failure[statusStr] {
			return &types.APIResponse{
				Success:      false,
				ErrorMessage: "Task failed with status " + statusStr,
				Raw:          doc,
				TaskID:       taskID,
				Status:       types.StatusFailed,
			}
		}
	}

	return types.FailErr(types.NewError(types.ErrPollTimeout,
		fmt.Sprintf("Polling timeout after %s", e.cfg.PollTimeout)).
		WithProvider(provider))
}

// pollOnce performs a single status request. Transport problems and
// non-200 responses are skipped, not fatal; the window bounds them.
func (e *Executor) pollOnce(ctx context.Context, url string, header http.Header, logger *zap.Logger) (map[string]any, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := e.pollC.Do(req)
	if err != nil {
		logger.Debug("poll request failed", zap.Error(err))
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		logger.Debug("poll response decode failed", zap.Error(err))
		return nil, false
	}
	return doc, true
}

// downloadAll fetches result URLs into bytes. A failed download is
// dropped rather than failing the whole result.
func (e *Executor) downloadAll(ctx context.Context, result *types.APIResponse) {
	for _, u := range result.ImageURLs {
		data, err := e.download(ctx, u)
		if err != nil {
			e.logger.Warn("image download failed, dropping",
				zap.String("url", u), zap.Error(err))
			e.metrics.IncDownload("failure")
			continue
		}
		result.Images = append(result.Images, data)
		e.metrics.IncDownload("success")
	}
}

func (e *Executor) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.DownloadRetries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, e.cfg.DownloadDelay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := e.dlC.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("download status %d", resp.StatusCode)
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

func (e *Executor) waitLimiter(ctx context.Context, p *config.ProviderConfig) error {
	if p.RateLimit <= 0 {
		return nil
	}
	e.mu.Lock()
	lim, ok := e.limiters[p.Name]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.RateLimit), 1)
		e.limiters[p.Name] = lim
	}
	e.mu.Unlock()
	return lim.Wait(ctx)
}

func normalizePolling(p *config.PollingConfig) *config.PollingConfig {
	def := config.DefaultPolling()
	if p == nil {
		return def
	}
	out := *p
	if out.EndpointTemplate == "" {
		out.EndpointTemplate = def.EndpointTemplate
	}
	if out.StatusPath == "" {
		out.StatusPath = def.StatusPath
	}
	if len(out.SuccessValues) == 0 {
		out.SuccessValues = def.SuccessValues
	}
	if len(out.FailureValues) == 0 {
		out.FailureValues = def.FailureValues
	}
	return &out
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
