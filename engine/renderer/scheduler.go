package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotRecording
	SlotSubmitted
	SlotPresenting
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotPresenting:
		return "presenting"
	}
	return fmt.Sprintf("slot_state(%d)", uint8(s))
}

// FrameSlot is the set of objects one in-flight frame uses. Slots are reset
// and reused, never recreated.
type FrameSlot struct {
	Index          int
	CommandBuffer  gpu.CommandBuffer
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence
	State          SlotState

	// pending is set while InFlight guards a submission not yet waited on.
	pending bool
}

// FrameHandle identifies the frame between BeginFrame and EndFrame.
type FrameHandle struct {
	Slot       *FrameSlot
	ImageIndex uint32
	Image      SwapImage
	Number     uint64
	generation uint64
}

type PresentResult struct {
	Presented bool
	// RebuildScheduled is set when present reported the swapchain out of date
	// or suboptimal. The next frame rebuilds it.
	RebuildScheduled bool
}

type SchedulerConfig struct {
	FramesInFlight int
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
}

// FrameScheduler drives acquire, submit and present for a ring of frame slots.
// It must be used from a single goroutine.
type FrameScheduler struct {
	dc     *DeviceContext
	pe     *PresentationEngine
	config SchedulerConfig

	slots   []*FrameSlot
	current int
	frame   *FrameHandle
	number  uint64

	// imagesInFlight holds the slot that last used each swap image.
	imagesInFlight []*FrameSlot
	generation     uint64

	shuttingDown bool
	destroyed    bool
}

func NewFrameScheduler(dc *DeviceContext, pe *PresentationEngine, config SchedulerConfig) (*FrameScheduler, error) {
	if !dc.Initialized() {
		return nil, core.ErrNotInitialized
	}
	if config.FramesInFlight < 1 {
		config.FramesInFlight = 2
	}
	if config.FenceTimeout <= 0 {
		config.FenceTimeout = time.Second
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = time.Second
	}

	fs := &FrameScheduler{dc: dc, pe: pe, config: config}
	dc.retain("frame scheduler")
	for i := 0; i < config.FramesInFlight; i++ {
		slot, err := fs.createSlot(i)
		if err != nil {
			fs.destroySlots()
			dc.drop("frame scheduler")
			return nil, err
		}
		fs.slots = append(fs.slots, slot)
	}
	core.LogDebug("Frame scheduler created with %d frames in flight.", config.FramesInFlight)
	return fs, nil
}

func (fs *FrameScheduler) createSlot(index int) (*FrameSlot, error) {
	device := fs.dc.Device
	slot := &FrameSlot{Index: index}
	var err error
	if slot.CommandBuffer, err = fs.dc.CommandPool.Allocate(); err != nil {
		return nil, fmt.Errorf("failed to allocate command buffer: %w", translate(err))
	}
	if slot.ImageAvailable, err = device.CreateSemaphore(); err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create semaphore on image available: %w", translate(err))
	}
	if slot.RenderFinished, err = device.CreateSemaphore(); err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create semaphore on queue complete: %w", translate(err))
	}
	// Created signaled so the first use of the slot does not look like
	// outstanding work.
	if slot.InFlight, err = device.CreateFence(true); err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create fence: %w", translate(err))
	}
	return slot, nil
}

func (s *FrameSlot) destroy() {
	if s.InFlight != nil {
		s.InFlight.Destroy()
		s.InFlight = nil
	}
	if s.RenderFinished != nil {
		s.RenderFinished.Destroy()
		s.RenderFinished = nil
	}
	if s.ImageAvailable != nil {
		s.ImageAvailable.Destroy()
		s.ImageAvailable = nil
	}
	if s.CommandBuffer != nil {
		s.CommandBuffer.Free()
		s.CommandBuffer = nil
	}
}

func (fs *FrameScheduler) Slots() []*FrameSlot {
	return fs.slots
}

// InProgress returns the frame between BeginFrame and EndFrame, if any.
func (fs *FrameScheduler) InProgress() *FrameHandle {
	return fs.frame
}

// wait blocks on the slot fence when it guards outstanding work.
func (fs *FrameScheduler) wait(slot *FrameSlot) error {
	if !slot.pending {
		return nil
	}
	if err := slot.InFlight.Wait(fs.config.FenceTimeout); err != nil {
		err = translate(err)
		if errors.Is(err, core.ErrTimeout) {
			core.LogWarn("In-flight fence wait on slot %d timed out after %s.", slot.Index, fs.config.FenceTimeout)
		}
		return err
	}
	slot.pending = false
	return nil
}

// BeginFrame waits for the next slot to be free and acquires a swap image
// for it. No GPU work is issued while the swapchain is stale.
func (fs *FrameScheduler) BeginFrame() (*FrameHandle, error) {
	if fs.shuttingDown {
		return nil, core.ErrShuttingDown
	}
	if fs.frame != nil {
		return nil, core.ErrFrameInProgress
	}
	if fs.pe.Stale() {
		return nil, core.ErrSwapchainOutOfDate
	}
	state := fs.pe.State()
	if state.Generation != fs.generation {
		fs.imagesInFlight = make([]*FrameSlot, len(state.Images))
		fs.generation = state.Generation
	}

	slot := fs.slots[fs.current]
	if err := fs.wait(slot); err != nil {
		return nil, err
	}

	slot.State = SlotAcquiring
	index, suboptimal, err := state.Swapchain.AcquireNextImage(fs.config.AcquireTimeout, slot.ImageAvailable)
	if err != nil {
		slot.State = SlotIdle
		err = translate(err)
		switch {
		case errors.Is(err, core.ErrSwapchainOutOfDate):
			fs.pe.Invalidate()
		case errors.Is(err, core.ErrSurfaceLost):
			fs.pe.fail(err)
		}
		return nil, err
	}
	if suboptimal {
		// The acquire signaled the semaphore, so consume it before giving up on the frame.
		core.LogDebug("Acquired image %d from a suboptimal swapchain, rebuilding first.", index)
		fs.pe.Invalidate()
		if err := fs.consume(slot); err != nil {
			return nil, err
		}
		return nil, core.ErrSwapchainOutOfDate
	}

	// Make sure no previous frame is still using this image.
	if other := fs.imagesInFlight[index]; other != nil && other != slot {
		if err := fs.wait(other); err != nil {
			fs.pe.Invalidate()
			if cerr := fs.consume(slot); cerr != nil {
				core.LogError("Failed to release slot %d: %s", slot.Index, cerr)
			}
			return nil, err
		}
	}
	fs.imagesInFlight[index] = slot

	if err := slot.InFlight.Reset(); err != nil {
		slot.State = SlotIdle
		return nil, translate(err)
	}

	fs.number++
	slot.State = SlotRecording
	fs.frame = &FrameHandle{
		Slot:       slot,
		ImageIndex: index,
		Image:      state.Images[index],
		Number:     fs.number,
		generation: state.Generation,
	}
	return fs.frame, nil
}

// consume submits a wait on the slot's image-available semaphore with no
// commands, leaving the semaphore unsignaled and the fence guarding the
// submission.
func (fs *FrameScheduler) consume(slot *FrameSlot) error {
	defer func() { slot.State = SlotIdle }()
	if err := slot.InFlight.Reset(); err != nil {
		return translate(err)
	}
	info := gpu.SubmitInfo{Wait: []gpu.Semaphore{slot.ImageAvailable}}
	if err := fs.dc.GraphicsQueue.Submit(info, slot.InFlight); err != nil {
		return translate(err)
	}
	slot.pending = true
	return nil
}

// Abandon gives up the frame in progress without presenting it. An acquired
// image can only be returned by presenting it, so the swapchain is rebuilt
// before the next frame.
func (fs *FrameScheduler) Abandon(h *FrameHandle) error {
	if h == nil || h != fs.frame {
		return core.ErrInvalidFrame
	}
	fs.frame = nil
	fs.advance()
	fs.pe.Invalidate()
	core.LogDebug("Frame %d abandoned.", h.Number)
	return fs.consume(h.Slot)
}

func (fs *FrameScheduler) advance() {
	fs.current = (fs.current + 1) % len(fs.slots)
}

// EndFrame submits the recorded command buffer and presents the image. A
// present that finds the swapchain out of date is not an error.
func (fs *FrameScheduler) EndFrame(h *FrameHandle) (PresentResult, error) {
	var result PresentResult
	if h == nil || h != fs.frame {
		return result, core.ErrInvalidFrame
	}
	slot := h.Slot
	fs.frame = nil
	fs.advance()

	slot.State = SlotSubmitted
	submit := gpu.SubmitInfo{
		Wait:           []gpu.Semaphore{slot.ImageAvailable},
		CommandBuffers: []gpu.CommandBuffer{slot.CommandBuffer},
		Signal:         []gpu.Semaphore{slot.RenderFinished},
	}
	if err := fs.dc.GraphicsQueue.Submit(submit, slot.InFlight); err != nil {
		err = translate(err)
		core.LogError("vkQueueSubmit failed: %s", err)
		fs.pe.Invalidate()
		if !errors.Is(err, core.ErrDeviceLost) {
			if cerr := fs.consume(slot); cerr != nil {
				core.LogError("Failed to release slot %d: %s", slot.Index, cerr)
			}
		}
		slot.State = SlotIdle
		return result, err
	}
	slot.pending = true

	slot.State = SlotPresenting
	suboptimal, err := fs.dc.PresentQueue.Present(gpu.PresentInfo{
		Wait:       []gpu.Semaphore{slot.RenderFinished},
		Swapchain:  fs.pe.State().Swapchain,
		ImageIndex: h.ImageIndex,
	})
	slot.State = SlotIdle

	err = translate(err)
	switch {
	case err == nil:
		result.Presented = true
		if suboptimal {
			result.RebuildScheduled = true
			fs.pe.Invalidate()
		}
	case errors.Is(err, core.ErrSwapchainOutOfDate):
		result.RebuildScheduled = true
		fs.pe.Invalidate()
	default:
		if errors.Is(err, core.ErrSurfaceLost) {
			fs.pe.fail(err)
		}
		return result, err
	}
	return result, nil
}

// Drain waits for every slot's outstanding submission. It refuses to run
// while a frame is in progress because that frame holds an acquired image.
func (fs *FrameScheduler) Drain() error {
	if fs.frame != nil {
		return core.ErrFrameInProgress
	}
	for _, slot := range fs.slots {
		if err := fs.wait(slot); err != nil {
			return err
		}
	}
	for i := range fs.imagesInFlight {
		fs.imagesInFlight[i] = nil
	}
	return nil
}

// Shutdown abandons the frame in progress, waits for outstanding work and
// destroys the slots. BeginFrame fails with core.ErrShuttingDown afterwards.
func (fs *FrameScheduler) Shutdown() error {
	if fs.destroyed {
		return core.ErrDoubleDestroy
	}
	fs.shuttingDown = true

	var errs []error
	if fs.frame != nil {
		if err := fs.Abandon(fs.frame); err != nil {
			errs = append(errs, err)
		}
	}
	if err := fs.Drain(); err != nil {
		core.LogWarn("Frame drain failed during shutdown (%s), waiting for the device.", err)
		if err := fs.dc.Device.WaitIdle(); err != nil {
			errs = append(errs, translate(err))
		}
	}
	fs.destroySlots()
	fs.destroyed = true
	fs.dc.drop("frame scheduler")
	core.LogInfo("Frame scheduler destroyed.")
	return errors.Join(errs...)
}

func (fs *FrameScheduler) destroySlots() {
	for _, slot := range fs.slots {
		slot.destroy()
	}
	fs.slots = nil
	fs.imagesInFlight = nil
}
