// Package batch fans one generation request out into independent items,
// runs them concurrently through the failover router, and reassembles the
// results in request order.
package batch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/imageflow/adapter"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/router"
	"github.com/BaSui01/imageflow/types"
)

// ImageInput is one host-supplied input image, base64 encoded, optionally
// as a data URL.
type ImageInput struct {
	FieldName string
	Filename  string
	MimeType  string
	Base64    string
}

// Request is one logical generation request. BatchCount items are run
// concurrently; each gets its own derived seed when Seed is positive.
// Endpoint, when set, pins a specific endpoint by name and disables
// failover.
type Request struct {
	Model      string
	Prompt     string
	BatchCount int
	Seed       int64
	Endpoint   string
	Extra      map[string]any
	Images     []ImageInput
	Progress   types.ProgressFunc
}

// Orchestrator runs batched generation requests.
type Orchestrator struct {
	failover *router.Failover
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewOrchestrator wires the orchestrator. The collector may be nil.
func NewOrchestrator(failover *router.Failover, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		failover: failover,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "batch")),
	}
}

// Generate runs every item of the request concurrently and aggregates the
// outcomes. Item failures never abort the batch; the aggregate fails only
// when every item failed. The returned error covers input problems only,
// such as undecodable image data.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*types.BatchResult, error) {
	count := req.BatchCount
	if count < 1 {
		count = 1
	}

	uploads, err := decodeUploads(req.Images)
	if err != nil {
		return nil, err
	}
	mode := config.ModeText2Img
	if len(uploads) > 0 {
		mode = config.ModeImg2Img
	}

	requestID := uuid.NewString()
	logger := o.logger.With(
		zap.String("request_id", requestID),
		zap.String("model", req.Model),
		zap.String("mode", mode),
	)
	logger.Info("starting batch",
		zap.Int("batch_count", count),
		zap.Int64("seed", req.Seed),
		zap.Int("input_images", len(uploads)))

	items := make([]types.BatchItemResult, count)
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			seed := itemSeed(req.Seed, i)
			params := itemParams(req, seed)

			resp := o.failover.Execute(gctx, req.Model, req.Endpoint, &adapter.Input{
				Mode:    mode,
				Params:  params,
				Uploads: uploads,
			})

			item := types.BatchItemResult{
				Index:  i,
				Seed:   seed,
				Images: resp.Images,
				URLs:   resp.ImageURLs,
			}
			status := "success"
			if !resp.Success {
				item.Err = resp.ErrorMessage
				status = "failure"
				logger.Warn("batch item failed",
					zap.Int("index", i),
					zap.String("error", resp.ErrorMessage))
			}
			o.metrics.IncBatchItem(req.Model, status)
			items[i] = item

			if req.Progress != nil {
				progressMu.Lock()
				req.Progress(i, count, resp.Images)
				progressMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := aggregate(items)
	result.ContentHash = ContentHash(req.Model, req.Prompt, count, req.Seed, req.Extra)
	logger.Info("batch finished",
		zap.Bool("success", result.Success),
		zap.String("content_hash", result.ContentHash))
	return result, nil
}

// itemSeed derives the per-item seed: base+i for a positive base, zero
// (no override) otherwise.
func itemSeed(base int64, index int) int64 {
	if base > 0 {
		return base + int64(index)
	}
	return 0
}

// itemParams assembles one item's parameter map. Extra parameters come
// first so prompt and seed always win.
func itemParams(req *Request, seed int64) map[string]any {
	params := make(map[string]any, len(req.Extra)+2)
	for k, v := range req.Extra {
		params[k] = v
	}
	params["prompt"] = req.Prompt
	if seed > 0 {
		params["seed"] = seed
	} else {
		delete(params, "seed")
	}
	return params
}

func decodeUploads(images []ImageInput) ([]*types.UploadFile, error) {
	if len(images) == 0 {
		return nil, nil
	}
	uploads := make([]*types.UploadFile, 0, len(images))
	for i, img := range images {
		f, err := types.DecodeUpload(img.FieldName, img.Filename, img.MimeType, img.Base64)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidConfig,
				fmt.Sprintf("input image %d is not valid base64", i)).WithCause(err)
		}
		uploads = append(uploads, f)
	}
	return uploads, nil
}

func aggregate(items []types.BatchItemResult) *types.BatchResult {
	result := &types.BatchResult{Items: items}
	var log []string
	for _, item := range items {
		if item.Failed() {
			log = append(log, fmt.Sprintf("Batch %d failed: %s", item.Index+1, item.Err))
			continue
		}
		result.Success = true
		log = append(log, fmt.Sprintf("Batch %d: %d image(s)", item.Index+1,
			len(item.Images)+len(item.URLs)))
		if n := len(item.URLs); n > 0 {
			result.LastURL = item.URLs[n-1]
		}
	}
	result.Log = strings.Join(log, "\n")
	return result
}

// ContentHash fingerprints a request's generation-relevant inputs so hosts
// can detect when a cached result is still valid. The seed participates
// directly, never through the extra map, so the two representations hash
// identically.
func ContentHash(model, prompt string, batchCount int, seed int64, extra map[string]any) string {
	filtered := make(map[string]any, len(extra))
	for k, v := range extra {
		if k == "seed" {
			continue
		}
		filtered[k] = v
	}
	// json.Marshal writes map keys sorted, giving a canonical form.
	extraJSON, err := json.Marshal(filtered)
	if err != nil {
		extraJSON = []byte("{}")
	}
	key := fmt.Sprintf("%s|%s|%d|%d|%s", model, prompt, batchCount, seed, extraJSON)
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
