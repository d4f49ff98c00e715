package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/imageflow/config"
)

func testSelector(t *testing.T, strategy Strategy) *Selector {
	t.Helper()
	reg, err := config.Parse([]byte(routerConfig))
	require.NoError(t, err)
	return NewSelector(reg, strategy, nil)
}

func TestSelectPriority(t *testing.T) {
	s := testSelector(t, StrategyPriority)

	for i := 0; i < 3; i++ {
		cand := s.Select("banana", config.ModeText2Img, "")
		require.NotNil(t, cand)
		assert.Equal(t, "alpha", cand.Provider.Name, "priority selection is stable")
	}
}

func TestSelectDefaultsToPriority(t *testing.T) {
	s := testSelector(t, "")
	cand := s.Select("banana", config.ModeText2Img, "")
	require.NotNil(t, cand)
	assert.Equal(t, "alpha", cand.Provider.Name)
}

func TestSelectRoundRobinRotates(t *testing.T) {
	s := testSelector(t, StrategyRoundRobin)

	var got []string
	for i := 0; i < 6; i++ {
		cand := s.Select("banana", config.ModeText2Img, "")
		require.NotNil(t, cand)
		got = append(got, cand.Provider.Name)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma", "alpha", "beta", "gamma"}, got)
}

func TestSelectRoundRobinPerModelCursor(t *testing.T) {
	s := testSelector(t, StrategyRoundRobin)

	first := s.Select("banana", config.ModeText2Img, "")
	require.NotNil(t, first)

	// Selecting another model must not advance banana's cursor.
	s.Select("fallback-only", config.ModeImg2Img, "")

	second := s.Select("banana", config.ModeText2Img, "")
	require.NotNil(t, second)
	assert.NotEqual(t, first.Provider.Name, second.Provider.Name)
}

func TestSelectOverrideBypassesStrategy(t *testing.T) {
	s := testSelector(t, StrategyRoundRobin)

	for i := 0; i < 3; i++ {
		cand := s.Select("banana", config.ModeText2Img, "gamma")
		require.NotNil(t, cand)
		assert.Equal(t, "gamma", cand.Provider.Name)
	}
}

func TestSelectUnknownModel(t *testing.T) {
	s := testSelector(t, StrategyRoundRobin)
	assert.Nil(t, s.Select("no-such-model", config.ModeText2Img, ""))
}
