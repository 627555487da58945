package gputest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/tundra/engine/renderer/gpu"
)

// Adapter describes a simulated physical device.
type Adapter struct {
	Info gpu.Accelerator
	// PresentFamilies lists the queue families able to present to a Window.
	PresentFamilies []uint32
	// CreateErr makes CreateDevice fail.
	CreateErr error
}

func newAdapter(name string, t gpu.DeviceType) *Adapter {
	return &Adapter{
		Info: gpu.Accelerator{
			Name:          name,
			Type:          t,
			APIVersion:    gpu.MakeVersion(1, 3, 250),
			DriverVersion: gpu.MakeVersion(535, 0, 0),
			QueueFamilies: []gpu.QueueFamily{
				{Flags: gpu.QueueGraphics | gpu.QueueCompute | gpu.QueueTransfer, Count: 16},
				{Flags: gpu.QueueTransfer, Count: 2},
			},
			MemoryHeaps: []gpu.MemoryHeap{{Size: 8 << 30, DeviceLocal: true}, {Size: 16 << 30}},
			Extensions:  []string{gpu.ExtSwapchain},
		},
		PresentFamilies: []uint32{0},
	}
}

// DiscreteGPU returns a discrete adapter whose first family does graphics and present.
func DiscreteGPU(name string) *Adapter {
	return newAdapter(name, gpu.DeviceTypeDiscreteGPU)
}

// IntegratedGPU returns an integrated adapter whose first family does graphics and present.
func IntegratedGPU(name string) *Adapter {
	return newAdapter(name, gpu.DeviceTypeIntegratedGPU)
}

// HeadlessGPU returns a discrete adapter that cannot present at all.
func HeadlessGPU(name string) *Adapter {
	a := newAdapter(name, gpu.DeviceTypeDiscreteGPU)
	a.PresentFamilies = nil
	return a
}

// SplitQueueGPU returns an adapter whose graphics and present capabilities
// live in different families.
func SplitQueueGPU(name string) *Adapter {
	a := newAdapter(name, gpu.DeviceTypeDiscreteGPU)
	a.PresentFamilies = []uint32{1}
	return a
}

// Loader is the entry point of the fake backend.
type Loader struct {
	APIVersion gpu.Version
	Extensions []string
	Layers     []string
	Adapters   []*Adapter
	CreateErr  error

	mu        sync.Mutex
	instances []*Instance
}

// NewLoader returns a 1.3.250 loader exposing the surface, portability and
// debug extensions, the Khronos validation layer, and adapters.
func NewLoader(adapters ...*Adapter) *Loader {
	return &Loader{
		APIVersion: gpu.MakeVersion(1, 3, 250),
		Extensions: []string{
			gpu.ExtSurface,
			"VK_KHR_xcb_surface",
			gpu.ExtPortabilityEnumeration,
			gpu.ExtGetPhysicalDeviceProperties2,
			gpu.ExtDebugReport,
		},
		Layers:   []string{gpu.LayerKhronosValidation},
		Adapters: adapters,
	}
}

func (l *Loader) Version() (gpu.Version, error) {
	return l.APIVersion, nil
}

func (l *Loader) InstanceExtensions() ([]string, error) {
	return append([]string(nil), l.Extensions...), nil
}

func (l *Loader) InstanceLayers() ([]string, error) {
	return append([]string(nil), l.Layers...), nil
}

func (l *Loader) CreateInstance(info gpu.InstanceInfo) (gpu.Instance, error) {
	if l.CreateErr != nil {
		return nil, l.CreateErr
	}
	for _, ext := range info.Extensions {
		if !contains(l.Extensions, ext) {
			return nil, fmt.Errorf("extension %s not present", ext)
		}
	}
	for _, layer := range info.Layers {
		if !contains(l.Layers, layer) {
			return nil, fmt.Errorf("layer %s not present", layer)
		}
	}
	inst := &Instance{
		loader:   l,
		Info:     info,
		surfaces: map[gpu.Surface]*surfaceRecord{},
	}
	inst.obj = inst.t.create("Instance", nil)

	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.mu.Unlock()
	return inst, nil
}

// Instances returns every instance created so far, oldest first.
func (l *Loader) Instances() []*Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Instance(nil), l.instances...)
}

// LastInstance returns the most recently created instance, or nil.
func (l *Loader) LastInstance() *Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.instances) == 0 {
		return nil
	}
	return l.instances[len(l.instances)-1]
}

// Violations aggregates the violations of every instance.
func (l *Loader) Violations() []string {
	var out []string
	for _, inst := range l.Instances() {
		out = append(out, inst.Violations()...)
	}
	return out
}

// Live counts objects still alive across every instance, instances included.
func (l *Loader) Live() int {
	n := 0
	for _, inst := range l.Instances() {
		inst.t.mu.Lock()
		n += inst.t.live(nil)
		inst.t.mu.Unlock()
	}
	return n
}

var errNotFake = errors.New("gputest: object does not belong to the fake backend")

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
