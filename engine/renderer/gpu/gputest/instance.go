package gputest

import (
	"fmt"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

type surfaceRecord struct {
	window *Window
	obj    *object
}

// Instance is a fake gpu.Instance. Every object created below it shares its
// tracker and lock.
type Instance struct {
	Info gpu.InstanceInfo

	loader      *Loader
	t           tracker
	obj         *object
	surfaces    map[gpu.Surface]*surfaceRecord
	nextSurface gpu.Surface
	devices     []*Device
}

func (inst *Instance) Native() interface{} {
	return inst
}

func (inst *Instance) Accelerators() ([]*gpu.Accelerator, error) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	inst.t.use(inst.obj, "enumerate accelerators")

	out := make([]*gpu.Accelerator, 0, len(inst.loader.Adapters))
	for _, a := range inst.loader.Adapters {
		acc := a.Info
		acc.Handle = a
		out = append(out, &acc)
	}
	return out, nil
}

func adapterOf(acc *gpu.Accelerator) (*Adapter, error) {
	a, ok := acc.Handle.(*Adapter)
	if !ok {
		return nil, errNotFake
	}
	return a, nil
}

func (inst *Instance) surface(s gpu.Surface) (*surfaceRecord, error) {
	rec, ok := inst.surfaces[s]
	if !ok {
		return nil, fmt.Errorf("unknown surface %d", s)
	}
	if !inst.t.use(rec.obj, "query surface") {
		return nil, gpu.ErrSurfaceLost
	}
	return rec, nil
}

func (inst *Instance) SurfaceSupport(acc *gpu.Accelerator, family uint32, s gpu.Surface) (bool, error) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	a, err := adapterOf(acc)
	if err != nil {
		return false, err
	}
	if _, err := inst.surface(s); err != nil {
		return false, err
	}
	return a.presents(family), nil
}

func (inst *Instance) SurfaceCapabilities(acc *gpu.Accelerator, s gpu.Surface) (gpu.SurfaceCapabilities, error) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	if _, err := adapterOf(acc); err != nil {
		return gpu.SurfaceCapabilities{}, err
	}
	rec, err := inst.surface(s)
	if err != nil {
		return gpu.SurfaceCapabilities{}, err
	}
	return rec.window.capabilities()
}

func (inst *Instance) SurfaceFormats(acc *gpu.Accelerator, s gpu.Surface) ([]gpu.SurfaceFormat, error) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	if _, err := adapterOf(acc); err != nil {
		return nil, err
	}
	rec, err := inst.surface(s)
	if err != nil {
		return nil, err
	}
	return rec.window.formats(), nil
}

func (inst *Instance) PresentModes(acc *gpu.Accelerator, s gpu.Surface) ([]gpu.PresentMode, error) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	if _, err := adapterOf(acc); err != nil {
		return nil, err
	}
	rec, err := inst.surface(s)
	if err != nil {
		return nil, err
	}
	return rec.window.presentModes(), nil
}

func (inst *Instance) CreateDevice(acc *gpu.Accelerator, info gpu.DeviceInfo) (gpu.Device, error) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	a, err := adapterOf(acc)
	if err != nil {
		return nil, err
	}
	if a.CreateErr != nil {
		return nil, a.CreateErr
	}
	if len(info.QueueFamilies) == 0 {
		return nil, fmt.Errorf("device needs at least one queue family")
	}
	seen := map[uint32]bool{}
	for _, f := range info.QueueFamilies {
		if int(f) >= len(a.Info.QueueFamilies) {
			return nil, fmt.Errorf("queue family %d out of range", f)
		}
		if seen[f] {
			inst.t.violate("queue family %d requested twice", f)
		}
		seen[f] = true
	}
	for _, ext := range info.Extensions {
		if !a.Info.HasExtension(ext) {
			return nil, fmt.Errorf("device extension %s not present", ext)
		}
	}
	if a.Info.HasExtension(gpu.ExtPortabilitySubset) && !contains(info.Extensions, gpu.ExtPortabilitySubset) {
		inst.t.violate("%s exposed by %s but not enabled", gpu.ExtPortabilitySubset, a.Info.Name)
	}

	d := &Device{
		inst:    inst,
		adapter: a,
		Info:    info,
		obj:     inst.t.create("Device", inst.obj),
		queues:  map[uint32]*Queue{},
	}
	for _, f := range info.QueueFamilies {
		d.queues[f] = &Queue{device: d, Family: f}
	}
	inst.devices = append(inst.devices, d)
	return d, nil
}

func (inst *Instance) addSurface(w *Window) gpu.Surface {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	inst.t.use(inst.obj, "create surface")
	inst.nextSurface++
	s := inst.nextSurface
	inst.surfaces[s] = &surfaceRecord{window: w, obj: inst.t.create("Surface", inst.obj)}
	return s
}

func (inst *Instance) DestroySurface(s gpu.Surface) {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	rec, ok := inst.surfaces[s]
	if !ok {
		inst.t.violate("destroying unknown surface %d", s)
		return
	}
	inst.t.destroy(rec.obj)
}

func (inst *Instance) LiveObjects() int {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	return inst.t.live(inst.obj)
}

// LiveKinds counts live objects below the instance by kind.
func (inst *Instance) LiveKinds() map[string]int {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	return inst.t.liveKinds(inst.obj)
}

// Alive reports whether the instance itself has not been destroyed.
func (inst *Instance) Alive() bool {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	return inst.obj.alive
}

// Devices returns every device created from the instance.
func (inst *Instance) Devices() []*Device {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	return append([]*Device(nil), inst.devices...)
}

// LastDevice returns the most recently created device, or nil.
func (inst *Instance) LastDevice() *Device {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	if len(inst.devices) == 0 {
		return nil
	}
	return inst.devices[len(inst.devices)-1]
}

func (inst *Instance) Violations() []string {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	return append([]string(nil), inst.t.violations...)
}

func (inst *Instance) Destroy() {
	inst.t.mu.Lock()
	defer inst.t.mu.Unlock()
	inst.t.destroy(inst.obj)
}
