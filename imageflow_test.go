package imageflow

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/account"
)

const pipelineConfig = `
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
`

func TestNewPipeline(t *testing.T) {
	p, err := New([]byte(pipelineConfig),
		WithMetrics("imageflow", prometheus.NewRegistry()),
		WithCredentials(account.StaticToken("tok")),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"banana"}, p.Models())
	assert.NotNil(t, p.Registry().Provider("alpha"))
}

func TestNewPipelineBadConfig(t *testing.T) {
	_, err := New([]byte("providers: [unclosed"))
	assert.Error(t, err)
}
