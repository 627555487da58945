package gputest

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// Image is a swapchain image of the fake backend.
type Image struct {
	Index     int
	swapchain *Swapchain
	acquired  bool
}

// Swapchain is a fake gpu.Swapchain. Images are handed out round-robin.
type Swapchain struct {
	Info gpu.SwapchainInfo
	// AcquireErrs are returned, in order, by the next acquisitions.
	AcquireErrs []error

	device  *Device
	window  *Window
	obj     *object
	images  []*Image
	next    int
	retired bool
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, error) {
	t := &d.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.use(d.obj, "create swapchain")
	rec, err := d.inst.surface(info.Surface)
	if err != nil {
		return nil, err
	}
	caps, err := rec.window.capabilities()
	if err != nil {
		return nil, err
	}
	if info.Extent.IsZero() {
		t.violate("swapchain created with zero extent")
		return nil, gpu.ErrOutOfDate
	}
	if info.MinImageCount < caps.MinImageCount || (caps.MaxImageCount > 0 && info.MinImageCount > caps.MaxImageCount) {
		t.violate("swapchain image count %d outside [%d, %d]", info.MinImageCount, caps.MinImageCount, caps.MaxImageCount)
	}
	if info.TransferDst && !caps.TransferDst {
		t.violate("swapchain requests transfer usage the surface does not support")
	}
	supported := false
	for _, f := range rec.window.formats() {
		if f == info.Format {
			supported = true
		}
	}
	if !supported {
		t.violate("swapchain format %d not supported by surface", info.Format.Format)
	}
	supported = false
	for _, m := range rec.window.presentModes() {
		if m == info.PresentMode {
			supported = true
		}
	}
	if !supported {
		t.violate("present mode %s not supported by surface", info.PresentMode)
	}

	if info.Old != nil {
		old, ok := info.Old.(*Swapchain)
		if !ok {
			return nil, errNotFake
		}
		t.use(old.obj, "replace swapchain")
		if old.retired {
			t.violate("%s passed as old swapchain twice", old.obj)
		}
		old.retired = true
	}
	for _, other := range d.swapchains {
		if other.obj.alive && !other.retired && other.Info.Surface == info.Surface {
			t.violate("surface %d already has live swapchain %s", info.Surface, other.obj)
		}
	}

	sc := &Swapchain{
		Info:   info,
		device: d,
		window: rec.window,
		obj:    t.create("Swapchain", d.obj, rec.obj),
	}
	sc.Info.Old = nil
	for i := 0; i < int(info.MinImageCount); i++ {
		sc.images = append(sc.images, &Image{Index: i, swapchain: sc})
	}
	d.swapchains = append(d.swapchains, sc)
	return sc, nil
}

func (sc *Swapchain) Images() ([]gpu.Image, error) {
	t := &sc.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.use(sc.obj, "get images") {
		return nil, fmt.Errorf("swapchain destroyed")
	}
	out := make([]gpu.Image, len(sc.images))
	for i, img := range sc.images {
		out[i] = img
	}
	return out, nil
}

func (sc *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, bool, error) {
	t := &sc.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.use(sc.obj, "acquire") {
		return 0, false, gpu.ErrOutOfDate
	}
	if sc.device.Lost {
		return 0, false, gpu.ErrDeviceLost
	}
	if sc.retired {
		t.violate("acquire from retired %s", sc.obj)
		return 0, false, gpu.ErrOutOfDate
	}
	if len(sc.AcquireErrs) > 0 {
		err := sc.AcquireErrs[0]
		sc.AcquireErrs = sc.AcquireErrs[1:]
		if err != nil {
			return 0, false, err
		}
	}
	if err := sc.window.matches(sc.Info.Extent); err != nil {
		return 0, false, err
	}

	sem, ok := signal.(*Semaphore)
	if !ok {
		return 0, false, errNotFake
	}
	t.use(sem.obj, "acquire signal")

	for n := 0; n < len(sc.images); n++ {
		img := sc.images[sc.next]
		sc.next = (sc.next + 1) % len(sc.images)
		if img.acquired {
			continue
		}
		if sem.signaled {
			t.violate("acquire signals %s which is already signaled", sem.obj)
		}
		sem.signaled = true
		img.acquired = true
		_, _, suboptimal := sc.window.state()
		return uint32(img.Index), suboptimal, nil
	}
	return 0, false, gpu.ErrTimeout
}

func (sc *Swapchain) Destroy() {
	d := sc.device
	t := &d.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	busy := d.inFlight(func(s *submission) bool {
		for _, cb := range s.buffers {
			for _, cmd := range cb.Commands {
				if cmd.Image != nil && cmd.Image.swapchain == sc {
					return true
				}
			}
		}
		return false
	})
	if busy && !d.Lost {
		t.violate("%s destroyed while pending work uses its images", sc.obj)
	}
	t.destroy(sc.obj)
}

// Alive reports whether the swapchain has not been destroyed.
func (sc *Swapchain) Alive() bool {
	t := &sc.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	return sc.obj.alive
}

// Retired reports whether the swapchain was handed over as an old swapchain.
func (sc *Swapchain) Retired() bool {
	t := &sc.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	return sc.retired
}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
	cbFreed
)

func (s cbState) String() string {
	return [...]string{"initial", "recording", "executable", "pending", "freed"}[s]
}

// Command is one recorded operation.
type Command struct {
	Op    string
	Image *Image
	Color gpu.Color
}

// CommandPool is a fake gpu.CommandPool.
type CommandPool struct {
	Family  uint32
	device  *Device
	obj     *object
	buffers []*CommandBuffer
}

func (p *CommandPool) Allocate() (gpu.CommandBuffer, error) {
	t := &p.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.use(p.obj, "allocate") {
		return nil, fmt.Errorf("command pool destroyed")
	}
	cb := &CommandBuffer{pool: p, obj: t.create("CommandBuffer", p.obj)}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Destroy frees every buffer still allocated from the pool.
func (p *CommandPool) Destroy() {
	t := &p.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cb := range p.buffers {
		if !cb.obj.alive {
			continue
		}
		if cb.state == cbPending && !p.device.Lost {
			t.violate("%s freed with its pool while pending", cb.obj)
		}
		cb.state = cbFreed
		cb.obj.alive = false
	}
	t.destroy(p.obj)
}

// CommandBuffer is a fake gpu.CommandBuffer that records its commands.
type CommandBuffer struct {
	Commands []Command

	pool  *CommandPool
	obj   *object
	state cbState
}

func (cb *CommandBuffer) lock() *tracker {
	t := &cb.pool.device.inst.t
	t.mu.Lock()
	return t
}

func (cb *CommandBuffer) Reset() error {
	t := cb.lock()
	defer t.mu.Unlock()
	t.use(cb.obj, "reset")
	if cb.state == cbPending {
		t.violate("%s reset while pending", cb.obj)
	}
	cb.Commands = nil
	cb.state = cbInitial
	return nil
}

func (cb *CommandBuffer) Begin() error {
	t := cb.lock()
	defer t.mu.Unlock()
	t.use(cb.obj, "begin")
	switch cb.state {
	case cbPending:
		t.violate("%s begun while pending", cb.obj)
	case cbRecording:
		t.violate("%s begun twice", cb.obj)
	}
	cb.Commands = nil
	cb.state = cbRecording
	return nil
}

func (cb *CommandBuffer) record(cmd Command) {
	t := cb.lock()
	defer t.mu.Unlock()
	t.use(cb.obj, cmd.Op)
	if cb.state != cbRecording {
		t.violate("%s records %s outside Begin/End", cb.obj, cmd.Op)
	}
	if cmd.Image != nil {
		t.use(cmd.Image.swapchain.obj, cmd.Op)
	}
	cb.Commands = append(cb.Commands, cmd)
}

func (cb *CommandBuffer) TransitionToPresent(image gpu.Image) {
	img, _ := image.(*Image)
	cb.record(Command{Op: "transition", Image: img})
}

func (cb *CommandBuffer) ClearImage(image gpu.Image, c gpu.Color) {
	img, _ := image.(*Image)
	cb.record(Command{Op: "clear", Image: img, Color: c})
}

func (cb *CommandBuffer) End() error {
	t := cb.lock()
	defer t.mu.Unlock()
	t.use(cb.obj, "end")
	if cb.state != cbRecording {
		t.violate("%s ended without Begin", cb.obj)
	}
	cb.state = cbExecutable
	return nil
}

func (cb *CommandBuffer) Free() {
	t := cb.lock()
	defer t.mu.Unlock()
	if cb.state == cbPending && !cb.pool.device.Lost {
		t.violate("%s freed while pending", cb.obj)
	}
	cb.state = cbFreed
	t.destroy(cb.obj)
}
