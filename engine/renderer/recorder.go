package renderer

import (
	"fmt"
	"image/color"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// CommandRecorder fills a slot's command buffer for one frame. Without a
// clear color the buffer holds only the transition to the present layout.
type CommandRecorder struct {
	clear *gpu.Color
	// warned keeps the non-clearable warning to one line per swapchain.
	warned uint64
}

func NewCommandRecorder(clear *gpu.Color) *CommandRecorder {
	return &CommandRecorder{clear: clear}
}

func (r *CommandRecorder) SetClearColor(c *gpu.Color) {
	r.clear = c
}

func (r *CommandRecorder) ClearColor() *gpu.Color {
	return r.clear
}

func (r *CommandRecorder) Record(h *FrameHandle, image SwapImage) (gpu.CommandBuffer, error) {
	if h == nil || h.Slot == nil {
		return nil, core.ErrInvalidFrame
	}
	cb := h.Slot.CommandBuffer
	if err := cb.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset command buffer: %w", translate(err))
	}
	if err := cb.Begin(); err != nil {
		return nil, fmt.Errorf("failed to begin command buffer: %w", translate(err))
	}

	switch {
	case r.clear != nil && image.Clearable:
		cb.ClearImage(image.Image, *r.clear)
	case r.clear != nil:
		if r.warned != h.generation {
			core.LogWarn("Swapchain images do not support transfer, clear color ignored.")
			r.warned = h.generation
		}
		fallthrough
	default:
		cb.TransitionToPresent(image.Image)
	}

	if err := cb.End(); err != nil {
		return nil, fmt.Errorf("failed to end command buffer: %w", translate(err))
	}
	return cb, nil
}

// ColorFromRGBA converts an 8-bit color to a normalized clear color.
func ColorFromRGBA(c *color.RGBA) *gpu.Color {
	if c == nil {
		return nil
	}
	return &gpu.Color{
		float32(c.R) / 255.0,
		float32(c.G) / 255.0,
		float32(c.B) / 255.0,
		float32(c.A) / 255.0,
	}
}
