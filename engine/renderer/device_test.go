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

func requirements(w *gputest.Window) SurfaceRequirements {
	return SurfaceRequirements{
		Provider:   w,
		AppName:    "tundra test",
		AppVersion: gpu.MakeVersion(1, 0, 0),
	}
}

// initContext initializes a device context and shuts it down when the test
// ends, unless the test already did.
func initContext(t *testing.T, loader *gputest.Loader, w *gputest.Window, req SurfaceRequirements) *DeviceContext {
	t.Helper()
	dc := NewDeviceContext(loader)
	require.NoError(t, dc.Initialize(req))
	t.Cleanup(func() {
		if dc.Initialized() {
			dc.Shutdown()
		}
	})
	return dc
}

// assertClean checks that everything the loader handed out was released
// without a single validation violation.
func assertClean(t *testing.T, loader *gputest.Loader) {
	t.Helper()
	assert.Empty(t, loader.Violations())
	assert.Zero(t, loader.Live())
}

func TestDeviceContextPrefersDiscreteGPU(t *testing.T) {
	loader := gputest.NewLoader(gputest.IntegratedGPU("integrated"), gputest.DiscreteGPU("discrete"))
	w := gputest.NewWindow(800, 600)
	dc := initContext(t, loader, w, requirements(w))

	assert.Equal(t, "discrete", dc.Accelerator.Name)
	assert.Equal(t, uint32(0), dc.GraphicsFamily)
	assert.Equal(t, dc.GraphicsFamily, dc.PresentFamily)
	assert.NotNil(t, dc.GraphicsQueue)
	assert.NotNil(t, dc.CommandPool)

	require.NoError(t, dc.Shutdown())
	assert.Equal(t, 1, w.SurfacesDestroyed())
	assertClean(t, loader)
}

func TestDeviceContextKeepsEnumerationOrderOnTies(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("first"), gputest.DiscreteGPU("second"))
	w := gputest.NewWindow(800, 600)
	dc := initContext(t, loader, w, requirements(w))
	assert.Equal(t, "first", dc.Accelerator.Name)
}

func TestDeviceContextFamilyMustDoGraphicsAndPresent(t *testing.T) {
	both := gputest.IntegratedGPU("both")
	both.Info.QueueFamilies[1].Flags |= gpu.QueueGraphics
	both.PresentFamilies = []uint32{1}

	loader := gputest.NewLoader(gputest.SplitQueueGPU("split"), both)
	w := gputest.NewWindow(800, 600)
	dc := initContext(t, loader, w, requirements(w))

	assert.Equal(t, "both", dc.Accelerator.Name)
	assert.Equal(t, uint32(1), dc.GraphicsFamily)
	assert.Equal(t, uint32(1), dc.PresentFamily)
}

func TestDeviceContextNoSuitableAccelerator(t *testing.T) {
	noSwapchain := gputest.DiscreteGPU("no swapchain")
	noSwapchain.Info.Extensions = nil

	tests := []struct {
		name     string
		adapters []*gputest.Adapter
		window   func(w *gputest.Window)
	}{
		{name: "none"},
		{name: "headless", adapters: []*gputest.Adapter{gputest.HeadlessGPU("headless")}},
		{name: "split queues", adapters: []*gputest.Adapter{gputest.SplitQueueGPU("split")}},
		{name: "missing swapchain extension", adapters: []*gputest.Adapter{noSwapchain}},
		{
			name:     "no surface formats",
			adapters: []*gputest.Adapter{gputest.DiscreteGPU("gpu")},
			window:   func(w *gputest.Window) { w.Formats = nil },
		},
		{
			name:     "no present modes",
			adapters: []*gputest.Adapter{gputest.DiscreteGPU("gpu")},
			window:   func(w *gputest.Window) { w.PresentModes = nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := gputest.NewLoader(tt.adapters...)
			w := gputest.NewWindow(800, 600)
			if tt.window != nil {
				tt.window(w)
			}
			dc := NewDeviceContext(loader)
			err := dc.Initialize(requirements(w))

			assert.ErrorIs(t, err, core.ErrNoSuitableAccelerator)
			assert.ErrorIs(t, err, core.ErrInitializationFailure)
			assert.False(t, dc.Initialized())
			assert.Equal(t, 1, w.SurfacesDestroyed())
			assertClean(t, loader)
		})
	}
}

func TestDeviceContextReleasesClaimAfterFailure(t *testing.T) {
	w := gputest.NewWindow(800, 600)
	failed := NewDeviceContext(gputest.NewLoader())
	require.Error(t, failed.Initialize(requirements(w)))

	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	initContext(t, loader, w, requirements(w))
}

func TestDeviceContextCreationFailures(t *testing.T) {
	t.Run("instance", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		loader.CreateErr = errors.New("driver refused")
		w := gputest.NewWindow(800, 600)
		err := NewDeviceContext(loader).Initialize(requirements(w))
		assert.ErrorIs(t, err, core.ErrInstanceCreationFailed)
		assert.ErrorIs(t, err, core.ErrInitializationFailure)
	})

	t.Run("window extension", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		w := gputest.NewWindow(800, 600)
		w.Extensions = append(w.Extensions, "VK_KHR_wayland_surface")
		err := NewDeviceContext(loader).Initialize(requirements(w))
		assert.ErrorIs(t, err, core.ErrInstanceCreationFailed)
		assert.Empty(t, loader.Instances())
	})

	t.Run("surface", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		w := gputest.NewWindow(800, 600)
		w.CreateErr = errors.New("no display")
		err := NewDeviceContext(loader).Initialize(requirements(w))
		assert.ErrorIs(t, err, core.ErrInitializationFailure)
		assert.Zero(t, w.SurfacesDestroyed())
		assertClean(t, loader)
	})

	t.Run("device", func(t *testing.T) {
		adapter := gputest.DiscreteGPU("gpu")
		adapter.CreateErr = errors.New("out of memory")
		loader := gputest.NewLoader(adapter)
		w := gputest.NewWindow(800, 600)
		err := NewDeviceContext(loader).Initialize(requirements(w))
		assert.ErrorIs(t, err, core.ErrDeviceCreationFailed)
		assert.Equal(t, 1, w.SurfacesDestroyed())
		assertClean(t, loader)
	})

	t.Run("no provider", func(t *testing.T) {
		err := NewDeviceContext(gputest.NewLoader()).Initialize(SurfaceRequirements{})
		assert.ErrorIs(t, err, core.ErrInitializationFailure)
	})
}

func TestDeviceContextPortabilityEnumeration(t *testing.T) {
	tests := []struct {
		name        string
		portability bool
		loader      gpu.Version
		want        bool
	}{
		{name: "portability host", portability: true, loader: gpu.MakeVersion(1, 3, 250), want: true},
		{name: "exact version", portability: true, loader: gpu.PortabilityVersion, want: true},
		{name: "old loader", portability: true, loader: gpu.MakeVersion(1, 3, 215), want: false},
		{name: "native host", portability: false, loader: gpu.MakeVersion(1, 3, 250), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
			loader.APIVersion = tt.loader
			w := gputest.NewWindow(800, 600)
			req := requirements(w)
			req.Capabilities = gpu.Capabilities{Portability: tt.portability}
			initContext(t, loader, w, req)

			info := loader.LastInstance().Info
			assert.Equal(t, tt.want, info.Flags&gpu.InstanceEnumeratePortability != 0)
			if tt.want {
				assert.Contains(t, info.Extensions, gpu.ExtPortabilityEnumeration)
				assert.Contains(t, info.Extensions, gpu.ExtGetPhysicalDeviceProperties2)
			} else {
				assert.NotContains(t, info.Extensions, gpu.ExtPortabilityEnumeration)
			}
		})
	}
}

func TestDeviceContextEnablesPortabilitySubset(t *testing.T) {
	adapter := gputest.DiscreteGPU("moltenvk")
	adapter.Info.Extensions = append(adapter.Info.Extensions, gpu.ExtPortabilitySubset)
	loader := gputest.NewLoader(adapter)
	w := gputest.NewWindow(800, 600)
	initContext(t, loader, w, requirements(w))

	device := loader.LastInstance().LastDevice()
	require.NotNil(t, device)
	assert.Contains(t, device.Info.Extensions, gpu.ExtPortabilitySubset)
	assert.Contains(t, device.Info.Extensions, gpu.ExtSwapchain)
	assert.Empty(t, loader.Violations())
}

func TestDeviceContextValidation(t *testing.T) {
	t.Run("installed", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		w := gputest.NewWindow(800, 600)
		req := requirements(w)
		req.Validation = true
		initContext(t, loader, w, req)

		info := loader.LastInstance().Info
		assert.Equal(t, []string{gpu.LayerKhronosValidation}, info.Layers)
		assert.Contains(t, info.Extensions, gpu.ExtDebugReport)
		assert.NotNil(t, info.Debug)
	})

	t.Run("missing layer", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		loader.Layers = nil
		w := gputest.NewWindow(800, 600)
		req := requirements(w)
		req.Validation = true
		initContext(t, loader, w, req)

		info := loader.LastInstance().Info
		assert.Empty(t, info.Layers)
		assert.Nil(t, info.Debug)
	})
}

func TestDeviceContextSingleInstance(t *testing.T) {
	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := gputest.NewWindow(800, 600)
	dc := initContext(t, loader, w, requirements(w))

	assert.ErrorIs(t, dc.Initialize(requirements(w)), core.ErrAlreadyInitialized)
	other := NewDeviceContext(gputest.NewLoader(gputest.DiscreteGPU("gpu")))
	assert.ErrorIs(t, other.Initialize(requirements(w)), core.ErrAlreadyInitialized)
	assert.Len(t, loader.Instances(), 1)
}

func TestDeviceContextShutdownMisuse(t *testing.T) {
	assert.ErrorIs(t, NewDeviceContext(gputest.NewLoader()).Shutdown(), core.ErrNotInitialized)

	loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
	w := gputest.NewWindow(800, 600)
	dc := initContext(t, loader, w, requirements(w))
	require.NoError(t, dc.Shutdown())
	assert.ErrorIs(t, dc.Shutdown(), core.ErrDoubleDestroy)
	assert.ErrorIs(t, dc.Initialize(requirements(w)), core.ErrShuttingDown)
	assertClean(t, loader)
}

func TestDeviceContextShutdownWithDependents(t *testing.T) {
	t.Run("debug", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		w := gputest.NewWindow(800, 600)
		req := requirements(w)
		req.Debug = true
		dc := initContext(t, loader, w, req)
		pe, err := NewPresentationEngine(dc, PresentationConfig{Format: gpu.FormatB8G8R8A8Unorm})
		require.NoError(t, err)

		assert.PanicsWithValue(t, "device context shut down while [presentation engine] are still alive", func() {
			dc.Shutdown()
		})
		assert.True(t, dc.Initialized())

		require.NoError(t, pe.Destroy())
		require.NoError(t, dc.Shutdown())
		assertClean(t, loader)
	})

	t.Run("release", func(t *testing.T) {
		loader := gputest.NewLoader(gputest.DiscreteGPU("gpu"))
		w := gputest.NewWindow(800, 600)
		dc := initContext(t, loader, w, requirements(w))
		_, err := NewPresentationEngine(dc, PresentationConfig{Format: gpu.FormatB8G8R8A8Unorm})
		require.NoError(t, err)

		assert.NotPanics(t, func() { dc.Shutdown() })
		assert.False(t, dc.Initialized())
	})
}
