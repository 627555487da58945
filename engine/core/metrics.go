package core

import (
	"sync"

	"github.com/spaghettifunk/tundra/engine/containers"
)

const AVG_COUNT = 30

// MetricsState keeps a rolling frame-time average and frame counters.
type MetricsState struct {
	frameTimes         *containers.RingQueue[float64]
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64

	Presented uint64
	Skipped   uint64
	Rebuilds  uint64
}

var metricsMutex sync.Mutex
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	metricsState = &MetricsState{
		frameTimes: containers.NewRingQueue[float64](AVG_COUNT),
	}
	return nil
}

// MetricsUpdate records the duration of one loop iteration, in seconds.
func MetricsUpdate(frameElapsedTime float64) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	if metricsState == nil {
		return
	}

	frameMS := frameElapsedTime * 1000.0
	metricsState.frameTimes.Push(frameMS)
	sum := 0.0
	metricsState.frameTimes.Each(func(ms float64) { sum += ms })
	metricsState.MSavg = sum / float64(metricsState.frameTimes.Len())

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frameMS
	metricsState.Frames++
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}
}

func MetricsFramePresented() {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	if metricsState != nil {
		metricsState.Presented++
	}
}

func MetricsFrameSkipped() {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	if metricsState != nil {
		metricsState.Skipped++
	}
}

func MetricsSwapchainRebuilt() {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	if metricsState != nil {
		metricsState.Rebuilds++
	}
}

func MetricsFPS() float64 {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	return metricsState.FPS
}

func MetricsFrameTime() float64 {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	return metricsState.MSavg
}

func MetricsFrame() (float64, float64) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	return metricsState.FPS, metricsState.MSavg
}

// MetricsCounters returns presented, skipped and rebuild counts.
func MetricsCounters() (uint64, uint64, uint64) {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	return metricsState.Presented, metricsState.Skipped, metricsState.Rebuilds
}
