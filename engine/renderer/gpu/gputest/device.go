package gputest

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type submission struct {
	seq     int
	wait    []*Semaphore
	signal  []*Semaphore
	buffers []*CommandBuffer
	fence   *Fence
}

// Device is a fake gpu.Device. Submitted work stays pending until a fence
// covering it is waited on or the device or a queue is drained.
type Device struct {
	Info gpu.DeviceInfo
	// StallFences makes every wait on a pending fence time out.
	StallFences bool
	// Lost makes submissions and waits report gpu.ErrDeviceLost.
	Lost bool
	// SubmitErr fails the next submission, then clears itself.
	SubmitErr error

	inst    *Instance
	adapter *Adapter
	obj     *object
	queues  map[uint32]*Queue

	pending    []*submission
	seq        int
	swapchains []*Swapchain

	submissions   int
	waitIdleCalls int
	presented     []uint32
}

func (d *Device) Queue(family uint32) gpu.Queue {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	q, ok := d.queues[family]
	if !ok {
		d.inst.t.violate("queue family %d was not requested at device creation", family)
		q = &Queue{device: d, Family: family}
		d.queues[family] = q
	}
	return q
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, error) {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	img, ok := image.(*Image)
	if !ok {
		return nil, errNotFake
	}
	if !d.inst.t.use(img.swapchain.obj, "create image view") {
		return nil, fmt.Errorf("swapchain destroyed")
	}
	if format != img.swapchain.Info.Format.Format {
		d.inst.t.violate("image view format %d differs from swapchain format %d", format, img.swapchain.Info.Format.Format)
	}
	return &ImageView{device: d, Image: img, obj: d.inst.t.create("ImageView", d.obj, img.swapchain.obj)}, nil
}

func (d *Device) CreateCommandPool(family uint32) (gpu.CommandPool, error) {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	if _, ok := d.queues[family]; !ok {
		d.inst.t.violate("command pool for family %d without a queue", family)
	}
	return &CommandPool{device: d, Family: family, obj: d.inst.t.create("CommandPool", d.obj)}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return &Fence{device: d, signaled: signaled, obj: d.inst.t.create("Fence", d.obj)}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return &Semaphore{device: d, obj: d.inst.t.create("Semaphore", d.obj)}, nil
}

func (d *Device) WaitIdle() error {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	d.waitIdleCalls++
	d.inst.t.use(d.obj, "wait idle")
	if d.Lost {
		d.pending = nil
		return gpu.ErrDeviceLost
	}
	d.drain()
	return nil
}

func (d *Device) Destroy() {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	if len(d.pending) > 0 && !d.Lost {
		d.inst.t.violate("device destroyed with %d submissions in flight", len(d.pending))
	}
	d.inst.t.destroy(d.obj)
}

// drain completes every pending submission.
func (d *Device) drain() {
	for len(d.pending) > 0 {
		d.complete(d.pending[0])
	}
}

// completeThrough completes s and everything submitted before it.
func (d *Device) completeThrough(s *submission) {
	for len(d.pending) > 0 && d.pending[0].seq <= s.seq {
		d.complete(d.pending[0])
	}
}

func (d *Device) complete(s *submission) {
	d.pending = d.pending[1:]
	for _, cb := range s.buffers {
		cb.state = cbExecutable
	}
	if s.fence != nil {
		s.fence.signaled = true
		s.fence.submitted = nil
	}
}

// inFlight reports whether any pending submission matches.
func (d *Device) inFlight(match func(*submission) bool) bool {
	for _, s := range d.pending {
		if match(s) {
			return true
		}
	}
	return false
}

// Submissions counts accepted queue submissions.
func (d *Device) Submissions() int {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return d.submissions
}

// Pending counts submissions that have not completed yet.
func (d *Device) Pending() int {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return len(d.pending)
}

// Presented counts accepted presentations.
func (d *Device) Presented() int {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return len(d.presented)
}

// PresentedImages returns the image index of every accepted presentation.
func (d *Device) PresentedImages() []uint32 {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return append([]uint32(nil), d.presented...)
}

func (d *Device) WaitIdleCalls() int {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return d.waitIdleCalls
}

// Swapchains returns every swapchain created on the device, oldest first.
func (d *Device) Swapchains() []*Swapchain {
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	return append([]*Swapchain(nil), d.swapchains...)
}

// Queue is a fake gpu.Queue.
type Queue struct {
	Family uint32
	device *Device
}

func (q *Queue) Submit(info gpu.SubmitInfo, fence gpu.Fence) error {
	d := q.device
	t := &d.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.use(d.obj, "submit")
	if d.Lost {
		return gpu.ErrDeviceLost
	}
	if err := d.SubmitErr; err != nil {
		d.SubmitErr = nil
		return err
	}

	s := &submission{}
	for _, ws := range info.Wait {
		sem, ok := ws.(*Semaphore)
		if !ok {
			return errNotFake
		}
		t.use(sem.obj, "submit wait")
		if !sem.signaled {
			t.violate("submission waits on %s which has no pending signal", sem.obj)
		}
		sem.signaled = false
		s.wait = append(s.wait, sem)
	}
	for _, c := range info.CommandBuffers {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return errNotFake
		}
		t.use(cb.obj, "submit")
		switch cb.state {
		case cbPending:
			t.violate("%s submitted while still pending", cb.obj)
		case cbExecutable:
		default:
			t.violate("%s submitted in state %s", cb.obj, cb.state)
		}
		for _, cmd := range cb.Commands {
			if cmd.Image != nil {
				t.use(cmd.Image.swapchain.obj, "submit command referencing swapchain image")
			}
		}
		cb.state = cbPending
		s.buffers = append(s.buffers, cb)
	}
	for _, ss := range info.Signal {
		sem, ok := ss.(*Semaphore)
		if !ok {
			return errNotFake
		}
		t.use(sem.obj, "submit signal")
		if sem.signaled {
			t.violate("submission signals %s which is already signaled", sem.obj)
		}
		sem.signaled = true
		s.signal = append(s.signal, sem)
	}
	if fence != nil {
		f, ok := fence.(*Fence)
		if !ok {
			return errNotFake
		}
		t.use(f.obj, "submit fence")
		if f.signaled || f.submitted != nil {
			t.violate("%s submitted without being reset", f.obj)
		}
		f.signaled = false
		f.submitted = s
		s.fence = f
	}

	d.seq++
	s.seq = d.seq
	d.pending = append(d.pending, s)
	d.submissions++
	return nil
}

func (q *Queue) Present(info gpu.PresentInfo) (bool, error) {
	d := q.device
	t := &d.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if !d.adapter.presents(q.Family) {
		t.violate("present on family %d which cannot present", q.Family)
	}
	if d.Lost {
		return false, gpu.ErrDeviceLost
	}
	for _, ws := range info.Wait {
		sem, ok := ws.(*Semaphore)
		if !ok {
			return false, errNotFake
		}
		t.use(sem.obj, "present wait")
		if !sem.signaled {
			t.violate("present waits on %s which has no pending signal", sem.obj)
		}
		sem.signaled = false
	}
	sc, ok := info.Swapchain.(*Swapchain)
	if !ok {
		return false, errNotFake
	}
	if !t.use(sc.obj, "present") {
		return false, gpu.ErrOutOfDate
	}
	if int(info.ImageIndex) >= len(sc.images) {
		t.violate("present of image %d out of range", info.ImageIndex)
		return false, gpu.ErrOutOfDate
	}
	img := sc.images[info.ImageIndex]
	if !img.acquired {
		t.violate("present of image %d which was not acquired", info.ImageIndex)
	}
	img.acquired = false

	if sc.retired {
		return false, gpu.ErrOutOfDate
	}
	if err := sc.window.matches(sc.Info.Extent); err != nil {
		return false, err
	}
	d.presented = append(d.presented, info.ImageIndex)
	_, _, suboptimal := sc.window.state()
	return suboptimal, nil
}

func (q *Queue) WaitIdle() error {
	d := q.device
	d.inst.t.mu.Lock()
	defer d.inst.t.mu.Unlock()
	if d.Lost {
		return gpu.ErrDeviceLost
	}
	d.drain()
	return nil
}

func (a *Adapter) presents(family uint32) bool {
	for _, f := range a.PresentFamilies {
		if f == family {
			return true
		}
	}
	return false
}

// Fence is a fake gpu.Fence.
type Fence struct {
	device    *Device
	obj       *object
	signaled  bool
	submitted *submission
}

func (f *Fence) Wait(timeout time.Duration) error {
	t := &f.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.use(f.obj, "wait")
	if f.device.Lost {
		return gpu.ErrDeviceLost
	}
	if f.signaled {
		return nil
	}
	if f.submitted == nil || f.device.StallFences {
		return gpu.ErrTimeout
	}
	f.device.completeThrough(f.submitted)
	return nil
}

func (f *Fence) Reset() error {
	t := &f.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()

	t.use(f.obj, "reset")
	if f.submitted != nil {
		t.violate("%s reset while its submission is pending", f.obj)
		return nil
	}
	f.signaled = false
	return nil
}

// Signaled reports the current state of the fence.
func (f *Fence) Signaled() bool {
	t := &f.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	return f.signaled
}

func (f *Fence) Destroy() {
	t := &f.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.submitted != nil && !f.device.Lost {
		t.violate("%s destroyed while pending", f.obj)
	}
	t.destroy(f.obj)
}

// Semaphore is a fake binary gpu.Semaphore.
type Semaphore struct {
	device   *Device
	obj      *object
	signaled bool
}

func (s *Semaphore) Destroy() {
	d := s.device
	t := &d.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	busy := d.inFlight(func(sub *submission) bool {
		for _, w := range append(sub.wait, sub.signal...) {
			if w == s {
				return true
			}
		}
		return false
	})
	if busy && !d.Lost {
		t.violate("%s destroyed while referenced by pending work", s.obj)
	}
	t.destroy(s.obj)
}

// Signaled reports whether a signal is pending on the semaphore.
func (s *Semaphore) Signaled() bool {
	t := &s.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	return s.signaled
}

// ImageView is a fake gpu.ImageView.
type ImageView struct {
	Image  *Image
	device *Device
	obj    *object
}

func (v *ImageView) Destroy() {
	t := &v.device.inst.t
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroy(v.obj)
}
