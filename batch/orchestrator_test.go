package batch

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/adapter"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/router"
	"github.com/BaSui01/imageflow/types"
)

const batchConfig = `
providers:
  - name: alpha
    base_url: https://alpha.test
    api_key: k1
models:
  - name: banana
    api_endpoints:
      - provider: alpha
        priority: 1
        modes:
          text2img:
            endpoint: /v1/images
          img2img:
            endpoint: /v1/edits
`

// recordingRunner answers each call from a script keyed by seed and
// records what it saw.
type recordingRunner struct {
	mu       sync.Mutex
	inputs   []*adapter.Input
	modes    []string
	failSeed map[int64]string
	delay    func(seed int64) time.Duration
}

func (r *recordingRunner) Run(_ context.Context, cand *config.Candidate, in *adapter.Input) *types.APIResponse {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.modes = append(r.modes, cand.ModeName)
	r.mu.Unlock()

	seed, _ := in.Params["seed"].(int64)
	if r.delay != nil {
		time.Sleep(r.delay(seed))
	}
	if msg, ok := r.failSeed[seed]; ok {
		return types.Fail(msg)
	}
	return &types.APIResponse{
		Success:   true,
		Images:    [][]byte{[]byte(fmt.Sprintf("img-%d", seed))},
		ImageURLs: []string{fmt.Sprintf("https://alpha.test/out-%d.png", seed)},
		Status:    types.StatusSucceeded,
	}
}

func newOrchestrator(t *testing.T, runner router.Runner) *Orchestrator {
	t.Helper()
	reg, err := config.Parse([]byte(batchConfig))
	require.NoError(t, err)
	selector := router.NewSelector(reg, router.StrategyPriority, nil)
	return NewOrchestrator(router.NewFailover(selector, runner, nil, nil), nil, nil)
}

func TestGenerateDerivesSeeds(t *testing.T) {
	runner := &recordingRunner{}
	o := newOrchestrator(t, runner)

	result, err := o.Generate(context.Background(), &Request{
		Model:      "banana",
		Prompt:     "a fox",
		BatchCount: 3,
		Seed:       100,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Items, 3)

	for i, item := range result.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, int64(100+i), item.Seed)
		assert.False(t, item.Failed())
	}
}

func TestGenerateZeroSeedSendsNoOverride(t *testing.T) {
	runner := &recordingRunner{}
	o := newOrchestrator(t, runner)

	result, err := o.Generate(context.Background(), &Request{
		Model:      "banana",
		Prompt:     "a fox",
		BatchCount: 2,
		Seed:       0,
		Extra:      map[string]any{"seed": int64(7)},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	for _, in := range runner.inputs {
		_, present := in.Params["seed"]
		assert.False(t, present, "zero base seed must not send a seed, even via extra params")
	}
	for _, item := range result.Items {
		assert.Equal(t, int64(0), item.Seed)
	}
}

func TestGenerateReassemblesOutOfOrderCompletions(t *testing.T) {
	runner := &recordingRunner{
		// Later items finish first, 20ms apart.
		delay: func(seed int64) time.Duration {
			return time.Duration(54-seed) * 20 * time.Millisecond
		},
	}
	o := newOrchestrator(t, runner)

	var (
		mu            sync.Mutex
		progressOrder []int
	)
	result, err := o.Generate(context.Background(), &Request{
		Model:      "banana",
		Prompt:     "a fox",
		BatchCount: 4,
		Seed:       50,
		Progress: func(index, total int, _ [][]byte) {
			mu.Lock()
			progressOrder = append(progressOrder, index)
			mu.Unlock()
			assert.Equal(t, 4, total)
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 4)

	// Items come back in request order regardless of completion order.
	for i, item := range result.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, [][]byte{[]byte(fmt.Sprintf("img-%d", 50+i))}, item.Images)
	}
	// Progress fired once per item, in completion order.
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, progressOrder)
	assert.Equal(t, []int{3, 2, 1, 0}, progressOrder)
}

func TestGeneratePartialFailure(t *testing.T) {
	runner := &recordingRunner{failSeed: map[int64]string{11: "provider exploded"}}
	o := newOrchestrator(t, runner)

	result, err := o.Generate(context.Background(), &Request{
		Model:      "banana",
		Prompt:     "a fox",
		BatchCount: 3,
		Seed:       10,
	})
	require.NoError(t, err)

	assert.True(t, result.Success, "one failed item does not fail the batch")
	assert.True(t, result.Items[1].Failed())
	assert.Contains(t, result.Log, "Batch 2 failed:")
	assert.Contains(t, result.Log, "provider exploded")
	assert.Contains(t, result.Log, "Batch 1: 1 image(s)")
	assert.Equal(t, "https://alpha.test/out-12.png", result.LastURL)
}

func TestGenerateAllItemsFail(t *testing.T) {
	runner := &recordingRunner{failSeed: map[int64]string{
		20: "down", 21: "down",
	}}
	o := newOrchestrator(t, runner)

	result, err := o.Generate(context.Background(), &Request{
		Model:      "banana",
		Prompt:     "a fox",
		BatchCount: 2,
		Seed:       20,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.LastURL)
}

func TestGenerateUploadsSwitchMode(t *testing.T) {
	runner := &recordingRunner{}
	o := newOrchestrator(t, runner)

	img := base64.StdEncoding.EncodeToString([]byte("input-image"))
	result, err := o.Generate(context.Background(), &Request{
		Model:  "banana",
		Prompt: "edit this",
		Images: []ImageInput{
			{FieldName: "image", Filename: "in.png", MimeType: "image/png", Base64: img},
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, runner.inputs, 1)
	assert.Equal(t, config.ModeImg2Img, runner.inputs[0].Mode)
	require.Len(t, runner.inputs[0].Uploads, 1)
	assert.Equal(t, []byte("input-image"), runner.inputs[0].Uploads[0].Data)
	assert.Equal(t, config.ModeImg2Img, runner.modes[0])
}

func TestGenerateSharedUploadsAcrossItems(t *testing.T) {
	runner := &recordingRunner{}
	o := newOrchestrator(t, runner)

	img := base64.StdEncoding.EncodeToString([]byte("shared"))
	_, err := o.Generate(context.Background(), &Request{
		Model:      "banana",
		Prompt:     "edit",
		BatchCount: 3,
		Seed:       1,
		Images:     []ImageInput{{Filename: "in.png", Base64: img}},
	})
	require.NoError(t, err)

	require.Len(t, runner.inputs, 3)
	first := runner.inputs[0].Uploads[0]
	for _, in := range runner.inputs[1:] {
		assert.Same(t, first, in.Uploads[0], "items share one decoded buffer")
	}
}

func TestGenerateRejectsBadImage(t *testing.T) {
	o := newOrchestrator(t, &recordingRunner{})

	_, err := o.Generate(context.Background(), &Request{
		Model:  "banana",
		Prompt: "x",
		Images: []ImageInput{{Filename: "bad.png", Base64: "!!!"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestContentHash(t *testing.T) {
	base := ContentHash("banana", "a fox", 2, 100, map[string]any{"size": "1024"})

	assert.Equal(t, base, ContentHash("banana", "a fox", 2, 100, map[string]any{"size": "1024"}))
	assert.NotEqual(t, base, ContentHash("banana", "a cat", 2, 100, map[string]any{"size": "1024"}))
	assert.NotEqual(t, base, ContentHash("banana", "a fox", 3, 100, map[string]any{"size": "1024"}))
	assert.NotEqual(t, base, ContentHash("banana", "a fox", 2, 101, map[string]any{"size": "1024"}))
	assert.NotEqual(t, base, ContentHash("banana", "a fox", 2, 100, map[string]any{"size": "512"}))
	assert.Len(t, base, 32)
}

func TestContentHashIgnoresSeedInExtra(t *testing.T) {
	with := ContentHash("banana", "a fox", 2, 100, map[string]any{"size": "1024", "seed": int64(999)})
	without := ContentHash("banana", "a fox", 2, 100, map[string]any{"size": "1024"})
	assert.Equal(t, without, with, "the seed participates directly, never via extra params")
}

func TestContentHashCanonicalOrder(t *testing.T) {
	a := map[string]any{"size": "1024", "quality": "hd", "style": "vivid"}
	b := map[string]any{"style": "vivid", "quality": "hd", "size": "1024"}
	assert.Equal(t,
		ContentHash("banana", "a fox", 1, 0, a),
		ContentHash("banana", "a fox", 1, 0, b))
}

func TestGenerateDefaultsBatchCount(t *testing.T) {
	runner := &recordingRunner{}
	o := newOrchestrator(t, runner)

	result, err := o.Generate(context.Background(), &Request{
		Model:  "banana",
		Prompt: "a fox",
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Len(t, runner.inputs, 1)
}
