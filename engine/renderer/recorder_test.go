package renderer

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/tundra/engine/core"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
	"github.com/spaghettifunk/tundra/engine/renderer/gpu/gputest"
)

func recordedOps(cb gpu.CommandBuffer) []string {
	var ops []string
	for _, cmd := range cb.(*gputest.CommandBuffer).Commands {
		ops = append(ops, cmd.Op)
	}
	return ops
}

func TestRecorderClearsImage(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.rec.SetClearColor(&gpu.Color{0.25, 0.5, 0.75, 1})

	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	cb, err := f.rec.Record(h, h.Image)
	require.NoError(t, err)

	commands := cb.(*gputest.CommandBuffer).Commands
	require.Len(t, commands, 1)
	assert.Equal(t, "clear", commands[0].Op)
	assert.Equal(t, gpu.Color{0.25, 0.5, 0.75, 1}, commands[0].Color)
	assert.Equal(t, int(h.ImageIndex), commands[0].Image.Index)

	_, err = f.fs.EndFrame(h)
	require.NoError(t, err)
	f.teardown(t)
}

func TestRecorderTransitionOnly(t *testing.T) {
	f := newScheduler(t, 2, 3)
	f.rec.SetClearColor(nil)
	assert.Nil(t, f.rec.ClearColor())

	h, err := f.fs.BeginFrame()
	require.NoError(t, err)
	cb, err := f.rec.Record(h, h.Image)
	require.NoError(t, err)
	assert.Equal(t, []string{"transition"}, recordedOps(cb))
	require.NoError(t, f.fs.Abandon(h))
}

func TestRecorderIgnoresClearWithoutTransferUsage(t *testing.T) {
	f := newScheduler(t, 2, 3)
	h, err := f.fs.BeginFrame()
	require.NoError(t, err)

	image := h.Image
	image.Clearable = false
	cb, err := f.rec.Record(h, image)
	require.NoError(t, err)
	assert.Equal(t, []string{"transition"}, recordedOps(cb))
	assert.Equal(t, h.generation, f.rec.warned)

	// Re-recording resets the buffer rather than appending.
	cb, err = f.rec.Record(h, image)
	require.NoError(t, err)
	assert.Equal(t, []string{"transition"}, recordedOps(cb))

	_, err = f.fs.EndFrame(h)
	require.NoError(t, err)
	assert.Empty(t, f.loader.Violations())
}

func TestRecorderInvalidFrame(t *testing.T) {
	rec := NewCommandRecorder(nil)
	_, err := rec.Record(nil, SwapImage{})
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
	_, err = rec.Record(&FrameHandle{}, SwapImage{})
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
}

func TestColorFromRGBA(t *testing.T) {
	assert.Nil(t, ColorFromRGBA(nil))
	c := ColorFromRGBA(&color.RGBA{R: 255, G: 0, B: 51, A: 255})
	require.NotNil(t, c)
	assert.InDelta(t, 1.0, c[0], 1e-6)
	assert.InDelta(t, 0.0, c[1], 1e-6)
	assert.InDelta(t, 0.2, c[2], 1e-6)
	assert.InDelta(t, 1.0, c[3], 1e-6)
}
