package renderer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu/gputest"
)

type schedulerFixture struct {
	loader *gputest.Loader
	window *gputest.Window
	dc     *DeviceContext
	pe     *PresentationEngine
	fs     *FrameScheduler
	rec    *CommandRecorder
}

func newScheduler(t *testing.T, framesInFlight int, images uint32) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		loader: gputest.NewLoader(gputest.DiscreteGPU("gpu")),
		window: gputest.NewWindow(800, 600),
		rec:    NewCommandRecorder(&gpu.Color{0, 0, 0, 1}),
	}
	f.dc, f.pe = newPresentation(t, f.loader, f.window, PresentationConfig{
		Format:            gpu.FormatB8G8R8A8Unorm,
		PresentMode:       gpu.PresentModeMailbox,
		DesiredImageCount: images,
	})
	require.NoError(t, f.pe.Build(f.window.Extent()))

	fs, err := NewFrameScheduler(f.dc, f.pe, SchedulerConfig{FramesInFlight: framesInFlight})
	require.NoError(t, err)
	f.pe.SetDrainer(fs)
	f.fs = fs
	t.Cleanup(func() { fs.Shutdown() })
	return f
}

func (f *schedulerFixture) device() *gputest.Device {
	return f.loader.LastInstance().LastDevice()
}

func (f *schedulerFixture) frame(t *testing.T) PresentResult {
	t.Helper()
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	_, err = f.rec.Record(h, h.Image)
	require.NoError(t, err)
	result, err := f.fs.EndFrame(h)
	require.NoError(t, err)
	return result
}

// teardown destroys everything in order and checks nothing leaked.
func (f *schedulerFixture) teardown(t *testing.T) {
	t.Helper()
	require.NoError(t, f.fs.Shutdown())
	require.NoError(t, f.pe.Destroy())
	require.NoError(t, f.dc.Shutdown())
	assertClean(t, f.loader)
}

func TestSchedulerPresentsEveryFrame(t *testing.T) {
	f := newScheduler(t, 2, 3)
	for i := 0; i < 10; i++ {
		result := f.frame(t)
		assert.True(t, result.Presented)
		assert.False(t, result.RebuildScheduled)
	}

	device := f.device()
	assert.Equal(t, 10, device.Presented())
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}, device.PresentedImages())
	assert.LessOrEqual(t, device.Pending(), 2)
	for _, slot := range f.fs.Slots() {
		assert.Equal(t, SlotIdle, slot.State)
	}
	assert.Empty(t, f.loader.Violations())
	f.teardown(t)
}

func TestSchedulerSlotCount(t *testing.T) {
	f := newScheduler(t, 3, 3)
	assert.Len(t, f.fs.Slots(), 3)
	for i, slot := range f.fs.Slots() {
		assert.Equal(t, i, slot.Index)
		assert.True(t, slot.InFlight.(*gputest.Fence).Signaled())
	}
	f.teardown(t)

	f = newScheduler(t, 0, 3)
	assert.Len(t, f.fs.Slots(), 2)
}

func TestSchedulerMoreSlotsThanImages(t *testing.T) {
	f := newScheduler(t, 3, 2)
	f.frame(t)
	f.frame(t)

	// The third slot gets image 0 back, still guarded by the first slot.
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.ImageIndex)
	assert.Equal(t, 2, h.Slot.Index)
	assert.True(t, f.fs.Slots()[0].InFlight.(*gputest.Fence).Signaled())
	require.NoError(t, f.fs.Abandon(h))
	assert.Empty(t, f.loader.Violations())
}

func TestSchedulerFrameMisuse(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	assert.Same(t, h, f.fs.InProgress())

	_, err = f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrFrameInProgress)
	assert.ErrorIs(t, f.fs.Drain(), core.ErrFrameInProgress)
	_, err = f.fs.EndFrame(&FrameHandle{Slot: h.Slot})
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
	_, err = f.fs.EndFrame(nil)
	assert.ErrorIs(t, err, core.ErrInvalidFrame)

	_, err = f.rec.Record(h, h.Image)
	require.NoError(t, err)
	_, err = f.fs.EndFrame(h)
	require.NoError(t, err)
	_, err = f.fs.EndFrame(h)
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
	assert.Nil(t, f.fs.InProgress())
	f.teardown(t)
}

func TestSchedulerStaleSwapchainIssuesNoWork(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.pe.Invalidate()

	_, err := f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	assert.Zero(t, f.device().Submissions())
	f.teardown(t)
}

func TestSchedulerResizeBeforeAcquire(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.frame(t)

	f.window.Resize(1024, 768)
	_, err := f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	assert.True(t, f.pe.Stale())

	require.NoError(t, f.pe.Rebuild(f.window.Extent()))
	assert.True(t, f.frame(t).Presented)
	assert.Equal(t, 2, f.device().Presented())
	assert.Empty(t, f.loader.Violations())
	f.teardown(t)
}

func TestSchedulerResizeBeforePresent(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	_, err = f.rec.Record(h, h.Image)
	require.NoError(t, err)

	f.window.Resize(1024, 768)
	result, err := f.fs.EndFrame(h)
	require.NoError(t, err)
	assert.False(t, result.Presented)
	assert.True(t, result.RebuildScheduled)
	assert.True(t, f.pe.Stale())
	assert.Zero(t, f.device().Presented())

	require.NoError(t, f.pe.Rebuild(f.window.Extent()))
	assert.True(t, f.frame(t).Presented)
	assert.Empty(t, f.loader.Violations())
	f.teardown(t)
}

func TestSchedulerSuboptimalAcquire(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.window.Suboptimal = true

	_, err := f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	assert.True(t, f.pe.Stale())
	assert.Nil(t, f.fs.InProgress())
	slot := f.fs.Slots()[0]
	assert.False(t, slot.ImageAvailable.(*gputest.Semaphore).Signaled())
	assert.Equal(t, SlotIdle, slot.State)

	f.window.Suboptimal = false
	require.NoError(t, f.pe.Rebuild(f.window.Extent()))
	for i := 0; i < 4; i++ {
		assert.True(t, f.frame(t).Presented)
	}
	assert.Empty(t, f.loader.Violations())
	f.teardown(t)
}

func TestSchedulerSuboptimalPresent(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	_, err = f.rec.Record(h, h.Image)
	require.NoError(t, err)

	f.window.Suboptimal = true
	result, err := f.fs.EndFrame(h)
	require.NoError(t, err)
	assert.True(t, result.Presented)
	assert.True(t, result.RebuildScheduled)
	assert.True(t, f.pe.Stale())
	f.window.Suboptimal = false
	f.teardown(t)
}

func TestSchedulerAbandon(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)

	require.NoError(t, f.fs.Abandon(h))
	assert.Nil(t, f.fs.InProgress())
	assert.ErrorIs(t, f.fs.Abandon(h), core.ErrInvalidFrame)
	assert.False(t, h.Slot.ImageAvailable.(*gputest.Semaphore).Signaled())

	// The abandoned image is still acquired, so the swapchain is replaced.
	_, err = f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	require.NoError(t, f.pe.Rebuild(f.window.Extent()))
	assert.True(t, f.frame(t).Presented)
	assert.Empty(t, f.loader.Violations())
	f.teardown(t)
}

func TestSchedulerShutdownWithFrameInProgress(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.frame(t)
	_, err := f.fs.BeginFrame()
	require.NoError(t, err)

	require.NoError(t, f.fs.Shutdown())
	assert.Zero(t, f.device().Pending())
	_, err = f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrShuttingDown)
	assert.ErrorIs(t, f.fs.Shutdown(), core.ErrDoubleDestroy)

	require.NoError(t, f.pe.Destroy())
	require.NoError(t, f.dc.Shutdown())
	assertClean(t, f.loader)
}

func TestSchedulerFenceTimeout(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.frame(t)
	f.frame(t)

	f.device().StallFences = true
	_, err := f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Nil(t, f.fs.InProgress())

	// Shutdown falls back to waiting for the whole device.
	calls := f.device().WaitIdleCalls()
	f.teardown(t)
	assert.Greater(t, f.device().WaitIdleCalls(), calls+1)
}

func TestSchedulerSubmitFailure(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	_, err = f.rec.Record(h, h.Image)
	require.NoError(t, err)

	boom := errors.New("submit rejected")
	f.device().SubmitErr = boom
	_, err = f.fs.EndFrame(h)
	assert.ErrorIs(t, err, boom)
	assert.False(t, h.Slot.ImageAvailable.(*gputest.Semaphore).Signaled())
	assert.True(t, f.pe.Stale())
	assert.Empty(t, f.loader.Violations())
	f.teardown(t)
}

func TestSchedulerDeviceLost(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.device().Lost = true

	_, err := f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrDeviceLost)

	require.NoError(t, f.fs.Shutdown())
	require.NoError(t, f.pe.Destroy())
	assert.ErrorIs(t, f.dc.Shutdown(), core.ErrDeviceLost)
	assert.Zero(t, f.loader.Live())
}

func TestSchedulerDrain(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.frame(t)
	f.frame(t)
	assert.Equal(t, 2, f.device().Pending())

	require.NoError(t, f.fs.Drain())
	assert.Zero(t, f.device().Pending())
	f.teardown(t)
}

func TestSlotStateString(t *testing.T) {
	assert.Equal(t, "idle", SlotIdle.String())
	assert.Equal(t, "presenting", SlotPresenting.String())
	assert.Equal(t, "slot_state(9)", SlotState(9).String())
}

func TestSchedulerSurfaceLostOnAcquire(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.frame(t)

	f.window.Lose()
	_, err := f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrSurfaceLost)
	assert.True(t, f.pe.Stale())
	// The loss is sticky, no rebuild brings the swapchain back.
	assert.ErrorIs(t, f.pe.Rebuild(f.window.Extent()), core.ErrSurfaceLost)
	_, err = f.fs.BeginFrame()
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
}

func TestSchedulerEndFrameAfterShutdown(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	_, err = f.rec.Record(h, h.Image)
	require.NoError(t, err)

	require.NoError(t, f.fs.Shutdown())
	_, err = f.fs.EndFrame(h)
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
	assert.Zero(t, f.device().Pending())
}
