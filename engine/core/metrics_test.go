package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	require.NoError(t, MetricsInitialize())

	for i := 0; i < 40; i++ {
		MetricsUpdate(0.010)
	}
	for i := 0; i < 2*AVG_COUNT; i++ {
		MetricsUpdate(0.020)
	}
	fps, frameTime := MetricsFrame()
	// The average only covers the last AVG_COUNT samples.
	assert.InDelta(t, 20.0, frameTime, 1e-9)
	assert.InDelta(t, 20.0, MetricsFrameTime(), 1e-9)
	assert.Greater(t, fps, 0.0)
	assert.Equal(t, fps, MetricsFPS())

	MetricsFramePresented()
	MetricsFramePresented()
	MetricsFrameSkipped()
	MetricsSwapchainRebuilt()
	presented, skipped, rebuilds := MetricsCounters()
	assert.Equal(t, uint64(2), presented)
	assert.Equal(t, uint64(1), skipped)
	assert.Equal(t, uint64(1), rebuilds)

	require.NoError(t, MetricsInitialize())
	presented, _, _ = MetricsCounters()
	assert.Zero(t, presented)
}
